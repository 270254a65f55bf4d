// Package descriptor hands out contiguous runs of descriptor-table slots from
// typed heaps. Freed runs are coalesced with their index-adjacent neighbors
// immediately, so fragmentation stays bounded over the process lifetime.
package descriptor

import (
	"sort"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gfxutils"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
)

// HeapOptions configures one descriptor heap.
type HeapOptions struct {
	Kind          gpu.DescriptorKind
	Capacity      int
	ShaderVisible bool

	// ExternallySynchronized disables the internal mutex; the consumer must
	// guarantee single-threaded access.
	ExternallySynchronized bool
}

// freeRange is a run of unallocated slots. The free list keeps ranges sorted
// by start index and never holds two adjacent ranges.
type freeRange struct {
	start int
	count int
}

// Heap is one typed descriptor heap with a first-fit free list.
type Heap struct {
	logger  *slog.Logger
	kind    gpu.DescriptorKind
	backing gpu.DescriptorBacking

	capacity      int
	shaderVisible bool
	mutex         utils.OptionalMutex

	freeList   []freeRange
	allocCount int

	allocations utils.Counter
	frees       utils.Counter
	exhaustions utils.Counter
}

// Allocation is a live run of descriptor slots. CPUBase and GPUBase are the
// device addresses of the first slot.
type Allocation struct {
	heap *Heap

	Start   int
	Count   int
	CPUBase uint64
	GPUBase uint64
}

// NewHeap creates a descriptor heap of the requested kind and capacity.
func NewHeap(logger *slog.Logger, device gpu.Device, options HeapOptions) (*Heap, error) {
	if options.Capacity <= 0 {
		return nil, cerrors.Newf("descriptor.NewHeap: capacity %d must be positive", options.Capacity)
	}

	backing, err := device.CreateDescriptorBacking(options.Kind, options.Capacity, options.ShaderVisible)
	if err != nil {
		return nil, cerrors.Wrapf(err, "creating %s backing with %d slots", options.Kind, options.Capacity)
	}

	heap := &Heap{
		logger:        logger,
		kind:          options.Kind,
		backing:       backing,
		capacity:      options.Capacity,
		shaderVisible: options.ShaderVisible,
		freeList:      []freeRange{{start: 0, count: options.Capacity}},
	}
	heap.mutex.UseMutex = !options.ExternallySynchronized
	return heap, nil
}

func (h *Heap) Kind() gpu.DescriptorKind { return h.kind }

func (h *Heap) Capacity() int { return h.capacity }

func (h *Heap) ShaderVisible() bool { return h.shaderVisible }

// Allocate reserves count contiguous slots. The first free block large enough
// is used and split if it is larger than needed. Exhaustion returns
// (Allocation{}, false); it is a recoverable condition, not an error.
func (h *Heap) Allocate(count int) (Allocation, bool) {
	if count <= 0 {
		h.logger.Warn("descriptor allocation with non-positive count", slog.Int("count", count))
		return Allocation{}, false
	}
	gfxutils.DebugValidate(h)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i := 0; i < len(h.freeList); i++ {
		block := h.freeList[i]
		if block.count < count {
			continue
		}

		if block.count == count {
			h.freeList = append(h.freeList[:i], h.freeList[i+1:]...)
		} else {
			h.freeList[i].start += count
			h.freeList[i].count -= count
		}

		h.allocCount++
		h.allocations.Inc()
		increment := h.backing.HandleIncrement()
		return Allocation{
			heap:    h,
			Start:   block.start,
			Count:   count,
			CPUBase: h.backing.CPUStart() + uint64(block.start*increment),
			GPUBase: h.backing.GPUStart() + uint64(block.start*increment),
		}, true
	}

	h.exhaustions.Inc()
	h.logger.Warn("descriptor heap exhausted",
		slog.String("kind", h.kind.String()),
		slog.Int("requested", count))
	return Allocation{}, false
}

// Free returns an allocation's slots to the heap and merges the freed range
// with any index-adjacent free neighbors.
func (h *Heap) Free(allocation Allocation) error {
	if allocation.heap != h {
		return errors.New("attempted to free a descriptor allocation into a heap that did not create it")
	}
	if allocation.Count <= 0 {
		return errors.New("attempted to free an empty descriptor allocation")
	}
	gfxutils.DebugValidate(h)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	insertAt := sort.Search(len(h.freeList), func(i int) bool {
		return h.freeList[i].start > allocation.Start
	})

	if insertAt > 0 {
		prev := h.freeList[insertAt-1]
		if prev.start+prev.count > allocation.Start {
			return errors.Errorf("descriptor range at %d count %d overlaps an existing free range", allocation.Start, allocation.Count)
		}
	}
	if insertAt < len(h.freeList) && allocation.Start+allocation.Count > h.freeList[insertAt].start {
		return errors.Errorf("descriptor range at %d count %d overlaps an existing free range", allocation.Start, allocation.Count)
	}

	freed := freeRange{start: allocation.Start, count: allocation.Count}

	mergePrev := insertAt > 0 && h.freeList[insertAt-1].start+h.freeList[insertAt-1].count == freed.start
	mergeNext := insertAt < len(h.freeList) && freed.start+freed.count == h.freeList[insertAt].start

	switch {
	case mergePrev && mergeNext:
		h.freeList[insertAt-1].count += freed.count + h.freeList[insertAt].count
		h.freeList = append(h.freeList[:insertAt], h.freeList[insertAt+1:]...)
	case mergePrev:
		h.freeList[insertAt-1].count += freed.count
	case mergeNext:
		h.freeList[insertAt].start = freed.start
		h.freeList[insertAt].count += freed.count
	default:
		h.freeList = append(h.freeList, freeRange{})
		copy(h.freeList[insertAt+1:], h.freeList[insertAt:])
		h.freeList[insertAt] = freed
	}

	h.allocCount--
	h.frees.Inc()
	return nil
}

// FreeRangeCount returns the number of distinct free ranges in the heap.
func (h *Heap) FreeRangeCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.freeList)
}

// LargestFreeRange returns the slot count of the largest free range, or 0 for
// a fully occupied heap.
func (h *Heap) LargestFreeRange() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	largest := 0
	for _, block := range h.freeList {
		if block.count > largest {
			largest = block.count
		}
	}
	return largest
}

// FreeSlotCount returns the total number of unallocated slots.
func (h *Heap) FreeSlotCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	total := 0
	for _, block := range h.freeList {
		total += block.count
	}
	return total
}

// AllocationCount returns the number of live allocations.
func (h *Heap) AllocationCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.allocCount
}

// Validate performs internal consistency checks on the free list: sorted by
// start, non-overlapping, fully coalesced and within capacity.
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	previousEnd := -1
	for _, block := range h.freeList {
		if block.count <= 0 {
			return errors.Errorf("free range at %d has non-positive count %d", block.start, block.count)
		}
		if block.start < 0 || block.start+block.count > h.capacity {
			return errors.Errorf("free range at %d count %d exceeds heap capacity %d", block.start, block.count, h.capacity)
		}
		if block.start < previousEnd {
			return errors.Errorf("free range at %d overlaps the previous range", block.start)
		}
		if block.start == previousEnd {
			return errors.Errorf("free range at %d is adjacent to the previous range but was not coalesced", block.start)
		}
		previousEnd = block.start + block.count
	}
	return nil
}

// Destroy releases the device backing. Live allocations become invalid.
func (h *Heap) Destroy() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.allocCount > 0 {
		h.logger.Error("[UNRELEASED DESCRIPTORS] heap destroyed with live allocations",
			slog.String("kind", h.kind.String()),
			slog.Int("count", h.allocCount))
	}
	h.backing.Destroy()
}
