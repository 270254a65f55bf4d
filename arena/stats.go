package arena

import (
	"sync/atomic"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/vkngwrapper/retrofit/gfxutils"
	"github.com/vkngwrapper/retrofit/gpu"
)

// AddDetailedStatistics sums this allocator's population into the provided
// statistics object. It never mutates allocator state.
func (a *Allocator) AddDetailedStatistics(stats *gfxutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.resources.Iter(func(handle Handle, res *Resource) bool {
		stats.AddResource(res.size)
		if res.pendingFree {
			stats.PendingCount++
			stats.PendingBytes += res.size
		}
		return false
	})
}

// BuildStatsString writes a JSON snapshot of the allocator for diagnostics.
func (a *Allocator) BuildStatsString(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("FrameIndex").Int(int(atomic.LoadUint64(&a.frameIndex)))
	obj.Name("RingSize").Int(a.ringSize)
	obj.Name("ActiveResources").Int(a.resources.Count())
	obj.Name("Created").Int(int(a.createdCount.Load()))
	obj.Name("Freed").Int(int(a.freedCount.Load()))
	obj.Name("Denied").Int(int(a.deniedCount.Load()))

	heaps := obj.Name("Heaps").Object()
	for class := gpu.HeapClass(0); class < heapClassCount; class++ {
		heap := heaps.Name(class.String()).Object()
		heap.Name("UsageBytes").Int(a.usage[class])
		heap.Name("BudgetBytes").Int(a.budgets[class])
		heap.End()
	}
	heaps.End()

	pending := obj.Name("PendingBySlot").Array()
	for _, slot := range a.pending {
		pending.Int(len(slot))
	}
	pending.End()
}
