package descriptor

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString writes a JSON snapshot of the heap for diagnostics.
func (h *Heap) BuildStatsString(writer *jwriter.Writer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Kind").String(h.kind.String())
	obj.Name("Capacity").Int(h.capacity)
	obj.Name("ShaderVisible").Bool(h.shaderVisible)
	obj.Name("LiveAllocations").Int(h.allocCount)
	obj.Name("TotalAllocations").Int(int(h.allocations.Load()))
	obj.Name("TotalFrees").Int(int(h.frees.Load()))
	obj.Name("Exhaustions").Int(int(h.exhaustions.Load()))

	ranges := obj.Name("FreeRanges").Array()
	for _, block := range h.freeList {
		entry := ranges.Object()
		entry.Name("Start").Int(block.start)
		entry.Name("Count").Int(block.count)
		entry.End()
	}
	ranges.End()
}
