package gpu

// BarrierKind distinguishes the three hazard types the explicit API knows.
type BarrierKind uint32

const (
	// BarrierKindTransition moves a resource between ResourceStates.
	BarrierKindTransition BarrierKind = iota
	// BarrierKindUAV orders read-after-write hazards on one unordered-access
	// resource without a state change.
	BarrierKindUAV
	// BarrierKindAliasing separates use of two resources that share physical
	// memory.
	BarrierKindAliasing
)

var barrierKindMapping = make(map[BarrierKind]string)

func (k BarrierKind) String() string {
	return barrierKindMapping[k]
}

func init() {
	barrierKindMapping[BarrierKindTransition] = "BarrierKindTransition"
	barrierKindMapping[BarrierKindUAV] = "BarrierKindUAV"
	barrierKindMapping[BarrierKindAliasing] = "BarrierKindAliasing"
}

// Barrier is one entry in a batched barrier call. Which fields are meaningful
// depends on Kind: transitions use Resource/Before/After, UAV barriers use
// Resource only, aliasing barriers use AliasBefore/AliasAfter.
type Barrier struct {
	Kind BarrierKind

	Resource Resource
	Before   ResourceState
	After    ResourceState

	AliasBefore Resource
	AliasAfter  Resource
}
