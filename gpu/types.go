package gpu

// ResourceState is the access mode the explicit API requires a resource to be
// in before a command that touches it executes. Moving a resource between
// states requires a transition barrier.
type ResourceState uint32

const (
	ResourceStateCommon ResourceState = iota
	ResourceStateVertexAndConstantBuffer
	ResourceStateIndexBuffer
	ResourceStateRenderTarget
	ResourceStateUnorderedAccess
	ResourceStateDepthWrite
	ResourceStateDepthRead
	ResourceStateShaderResource
	ResourceStateCopySource
	ResourceStateCopyDest
	ResourceStatePresent
)

var resourceStateMapping = make(map[ResourceState]string)

func (s ResourceState) String() string {
	return resourceStateMapping[s]
}

func init() {
	resourceStateMapping[ResourceStateCommon] = "ResourceStateCommon"
	resourceStateMapping[ResourceStateVertexAndConstantBuffer] = "ResourceStateVertexAndConstantBuffer"
	resourceStateMapping[ResourceStateIndexBuffer] = "ResourceStateIndexBuffer"
	resourceStateMapping[ResourceStateRenderTarget] = "ResourceStateRenderTarget"
	resourceStateMapping[ResourceStateUnorderedAccess] = "ResourceStateUnorderedAccess"
	resourceStateMapping[ResourceStateDepthWrite] = "ResourceStateDepthWrite"
	resourceStateMapping[ResourceStateDepthRead] = "ResourceStateDepthRead"
	resourceStateMapping[ResourceStateShaderResource] = "ResourceStateShaderResource"
	resourceStateMapping[ResourceStateCopySource] = "ResourceStateCopySource"
	resourceStateMapping[ResourceStateCopyDest] = "ResourceStateCopyDest"
	resourceStateMapping[ResourceStatePresent] = "ResourceStatePresent"
}

// HeapClass selects which kind of memory heap a resource is placed in.
type HeapClass uint32

const (
	// HeapClassDeviceLocal is fast GPU-only memory, not CPU-mappable.
	HeapClassDeviceLocal HeapClass = iota
	// HeapClassUpload is CPU-writable memory used for CPU->GPU transfer.
	HeapClassUpload
	// HeapClassReadback is CPU-readable memory used for GPU->CPU transfer.
	HeapClassReadback
)

var heapClassMapping = make(map[HeapClass]string)

func (c HeapClass) String() string {
	return heapClassMapping[c]
}

func init() {
	heapClassMapping[HeapClassDeviceLocal] = "HeapClassDeviceLocal"
	heapClassMapping[HeapClassUpload] = "HeapClassUpload"
	heapClassMapping[HeapClassReadback] = "HeapClassReadback"
}

// ListType selects which queue family a command list records for.
type ListType uint32

const (
	ListTypeGraphics ListType = iota
	ListTypeCompute
	ListTypeCopy
)

// ListTypeCount is the number of distinct list types, for sizing per-type tables.
const ListTypeCount = 3

var listTypeMapping = make(map[ListType]string)

func (t ListType) String() string {
	return listTypeMapping[t]
}

func init() {
	listTypeMapping[ListTypeGraphics] = "ListTypeGraphics"
	listTypeMapping[ListTypeCompute] = "ListTypeCompute"
	listTypeMapping[ListTypeCopy] = "ListTypeCopy"
}

// Topology is a legacy primitive topology. Several of these have no native
// equivalent in the explicit API and are drawn through synthesized index
// buffers instead.
type Topology uint32

const (
	TopologyPointList Topology = iota
	TopologyLineList
	TopologyLineStrip
	TopologyTriangleList
	TopologyTriangleStrip
	TopologyTriangleFan
	TopologyQuadList
)

var topologyMapping = make(map[Topology]string)

func (t Topology) String() string {
	return topologyMapping[t]
}

func init() {
	topologyMapping[TopologyPointList] = "TopologyPointList"
	topologyMapping[TopologyLineList] = "TopologyLineList"
	topologyMapping[TopologyLineStrip] = "TopologyLineStrip"
	topologyMapping[TopologyTriangleList] = "TopologyTriangleList"
	topologyMapping[TopologyTriangleStrip] = "TopologyTriangleStrip"
	topologyMapping[TopologyTriangleFan] = "TopologyTriangleFan"
	topologyMapping[TopologyQuadList] = "TopologyQuadList"
}

// IndexFormat is the element width of an index buffer.
type IndexFormat uint32

const (
	IndexFormatUint16 IndexFormat = iota
	IndexFormatUint32
)

// Stride returns the byte width of one index element.
func (f IndexFormat) Stride() int {
	if f == IndexFormatUint32 {
		return 4
	}
	return 2
}

var indexFormatMapping = make(map[IndexFormat]string)

func (f IndexFormat) String() string {
	return indexFormatMapping[f]
}

func init() {
	indexFormatMapping[IndexFormatUint16] = "IndexFormatUint16"
	indexFormatMapping[IndexFormatUint32] = "IndexFormatUint32"
}

// DescriptorKind is the type of descriptor a heap holds. Heaps are typed and
// slot allocations never cross heaps.
type DescriptorKind uint32

const (
	// DescriptorKindShaderView holds shader-resource, constant-buffer and
	// unordered-access views combined.
	DescriptorKindShaderView DescriptorKind = iota
	DescriptorKindSampler
	DescriptorKindRenderTargetView
	DescriptorKindDepthStencilView
)

var descriptorKindMapping = make(map[DescriptorKind]string)

func (k DescriptorKind) String() string {
	return descriptorKindMapping[k]
}

func init() {
	descriptorKindMapping[DescriptorKindShaderView] = "DescriptorKindShaderView"
	descriptorKindMapping[DescriptorKindSampler] = "DescriptorKindSampler"
	descriptorKindMapping[DescriptorKindRenderTargetView] = "DescriptorKindRenderTargetView"
	descriptorKindMapping[DescriptorKindDepthStencilView] = "DescriptorKindDepthStencilView"
}

// Format is a texture or vertex element format. Only the formats the legacy
// API can express are listed.
type Format uint32

const (
	FormatUnknown Format = iota
	FormatRGBA8
	FormatBGRA8
	FormatRGBA32Float
	FormatRG32Float
	FormatR32Float
	FormatDepth32
	FormatDepth24Stencil8
)

// TexelSize returns the byte size of one texel, or 0 for FormatUnknown.
func (f Format) TexelSize() int {
	switch f {
	case FormatRGBA8, FormatBGRA8, FormatR32Float, FormatDepth32, FormatDepth24Stencil8:
		return 4
	case FormatRG32Float:
		return 8
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

// CullMode is the legacy face-culling mode.
type CullMode uint32

const (
	CullModeNone CullMode = iota
	CullModeBack
	CullModeFront
)

// BlendMode is the legacy fixed-function blend equation.
type BlendMode uint32

const (
	BlendModeOpaque BlendMode = iota
	BlendModeAlpha
	BlendModeAdditive
)

// PolygonMode selects filled or wireframe rasterization.
type PolygonMode uint32

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeLine
)
