// Package command recycles command lists and paces allocator reuse against
// the frame ring. Allocators are partitioned per list type and ring slot; a
// slot's allocators are only reset once the fence for that slot's last
// submission has completed, so commands are never stomped while the GPU still
// reads them.
package command

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
)

// DefaultRingSize is the number of frames that may be in flight at once.
const DefaultRingSize = 3

// CreateOptions configures pool creation.
type CreateOptions struct {
	// RingSize is the number of frame slots. 0 selects DefaultRingSize;
	// values below 2 are rejected because a single slot cannot overlap CPU
	// recording with GPU execution.
	RingSize int
	// MessageSink optionally receives validation warnings and submission
	// errors.
	MessageSink gpu.MessageSink
}

type allocatorRecord struct {
	native gpu.CommandAllocator
}

// Pool owns every command list and allocator in the engine. It is mutated
// only from the producer thread; statistics counters are atomic so a
// reporting thread may read them concurrently.
type Pool struct {
	logger *slog.Logger
	device gpu.Device
	sink   gpu.MessageSink

	ringSize  int
	ringIndex int

	fence gpu.Fence
	// nextFenceValue is the value the next AdvanceFrame signals.
	nextFenceValue uint64
	// slotFences[i] is the fence value that must complete before slot i's
	// allocators can be reset.
	slotFences []uint64

	// allocators[listType][slot], created lazily on first Get for that
	// combination.
	allocators [gpu.ListTypeCount][]*allocatorRecord
	free       [gpu.ListTypeCount][]*List
	inFlight   [][]*List
	lists      []*List

	created            utils.Counter
	recycled           utils.Counter
	submissions        utils.Counter
	submissionFailures utils.Counter
}

// NewPool creates a command pool over the device. The ring size should match
// the resource allocator's so both retire frame work on the same cadence.
func NewPool(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Pool, error) {
	ringSize := options.RingSize
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}
	if ringSize < 2 {
		return nil, errors.Newf("ring size %d is too small, at least 2 frame slots are required", ringSize)
	}

	fence, err := device.CreateFence(0)
	if err != nil {
		return nil, errors.Wrap(err, "creating frame fence")
	}

	pool := &Pool{
		logger:         logger,
		device:         device,
		sink:           options.MessageSink,
		ringSize:       ringSize,
		fence:          fence,
		nextFenceValue: 1,
		slotFences:     make([]uint64, ringSize),
		inFlight:       make([][]*List, ringSize),
	}
	for listType := 0; listType < gpu.ListTypeCount; listType++ {
		pool.allocators[listType] = make([]*allocatorRecord, ringSize)
	}
	return pool, nil
}

func (p *Pool) RingSize() int { return p.ringSize }

func (p *Pool) RingIndex() int { return p.ringIndex }

// Get returns a command list of the requested type in the recording state,
// bound to the current slot's allocator. Pooled lists are reset and reused;
// a new list is created only when the pool for that type is empty.
func (p *Pool) Get(listType gpu.ListType) (*List, error) {
	if listType < 0 || listType >= gpu.ListTypeCount {
		return nil, errors.Newf("unknown list type %d", listType)
	}

	alloc, err := p.allocatorFor(listType, p.ringIndex)
	if err != nil {
		return nil, err
	}

	pool := p.free[listType]
	if len(pool) > 0 {
		list := pool[len(pool)-1]
		p.free[listType] = pool[:len(pool)-1]

		err = list.native.Reset(alloc.native)
		if err != nil {
			return nil, errors.Wrapf(err, "resetting pooled %s command list", listType)
		}
		list.allocator = alloc
		list.state = StateRecording
		p.recycled.Inc()
		return list, nil
	}

	native, err := p.device.CreateCommandList(listType, alloc.native)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s command list", listType)
	}
	list := &List{
		native:    native,
		listType:  listType,
		state:     StateRecording,
		allocator: alloc,
	}
	p.lists = append(p.lists, list)
	p.created.Inc()
	return list, nil
}

func (p *Pool) allocatorFor(listType gpu.ListType, slot int) (*allocatorRecord, error) {
	alloc := p.allocators[listType][slot]
	if alloc != nil {
		return alloc, nil
	}

	native, err := p.device.CreateCommandAllocator(listType)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s command allocator for slot %d", listType, slot)
	}
	alloc = &allocatorRecord{native: native}
	p.allocators[listType][slot] = alloc
	return alloc, nil
}

// Execute submits a single closed list to its type's queue.
func (p *Pool) Execute(list *List) error {
	return p.ExecuteLists([]*List{list})
}

// ExecuteLists submits closed lists of one type to that type's queue in
// order. A failed submission is permanent: the error is logged and surfaced,
// the lists are never resubmitted, and they remain closed so the caller can
// hand them back with Return.
func (p *Pool) ExecuteLists(lists []*List) error {
	if len(lists) == 0 {
		return nil
	}

	listType := lists[0].listType
	natives := make([]gpu.CommandList, len(lists))
	for i, list := range lists {
		if list.listType != listType {
			return errors.Newf("cannot submit %s and %s lists in one batch", listType, list.listType)
		}
		if list.state != StateClosed {
			return errors.Newf("cannot submit a command list in %s", list.state)
		}
		natives[i] = list.native
	}

	err := p.device.Queue(listType).Execute(natives)
	if err != nil {
		p.submissionFailures.Inc()
		p.logger.Error("Pool::ExecuteLists failed",
			slog.String("listType", listType.String()),
			slog.Int("count", len(lists)),
			slog.Any("error", err),
		)
		if p.sink != nil {
			p.sink.Message(gpu.MessageSeverityError, "command list submission failed")
		}
		return errors.Wrapf(err, "submitting %d %s command lists", len(lists), listType)
	}

	for _, list := range lists {
		list.state = StateExecuting
		p.inFlight[p.ringIndex] = append(p.inFlight[p.ringIndex], list)
	}
	p.submissions.Add(len(lists))
	return nil
}

// Return hands a list back to the pool for reuse. Lists submitted this frame
// are returned automatically once their slot's fence completes; Return exists
// for lists that were closed but never submitted, such as after a failed
// submission.
func (p *Pool) Return(list *List) error {
	switch list.state {
	case StateClosed:
	case StateExecuting:
		// The caller is vouching that the GPU is done with it.
	default:
		return errors.Newf("cannot return a command list in %s", list.state)
	}

	list.state = StateInitialized
	list.allocator = nil
	p.free[list.listType] = append(p.free[list.listType], list)
	return nil
}

// AdvanceFrame signals the fence for the outgoing slot, rotates the ring, and
// blocks until the incoming slot's previous submission has completed. The
// incoming slot's allocators are then reset and its in-flight lists returned
// to the pool. Must be called exactly once per frame, after the frame's
// submissions.
func (p *Pool) AdvanceFrame() error {
	value := p.nextFenceValue
	p.nextFenceValue++

	// Compute and copy work joins the graphics timeline before present, so
	// the graphics queue is the last to retire a frame.
	err := p.device.Queue(gpu.ListTypeGraphics).Signal(p.fence, value)
	if err != nil {
		return errors.Wrap(err, "signaling frame fence")
	}
	p.slotFences[p.ringIndex] = value

	p.ringIndex = (p.ringIndex + 1) % p.ringSize

	wait := p.slotFences[p.ringIndex]
	if p.fence.CompletedValue() < wait {
		p.logger.Debug("Pool::AdvanceFrame waiting on frame fence",
			slog.Int("slot", p.ringIndex),
			slog.Uint64("value", wait),
		)
		err = p.fence.Wait(wait)
		if err != nil {
			return errors.Wrapf(err, "waiting for frame fence value %d", wait)
		}
	}

	for _, list := range p.inFlight[p.ringIndex] {
		list.state = StateInitialized
		list.allocator = nil
		p.free[list.listType] = append(p.free[list.listType], list)
	}
	p.inFlight[p.ringIndex] = p.inFlight[p.ringIndex][:0]

	for listType := 0; listType < gpu.ListTypeCount; listType++ {
		alloc := p.allocators[listType][p.ringIndex]
		if alloc == nil {
			continue
		}
		err = alloc.native.Reset()
		if err != nil {
			return errors.Wrapf(err, "resetting %s command allocator for slot %d", gpu.ListType(listType), p.ringIndex)
		}
	}

	return nil
}

// WaitIdle drains the GPU and returns every in-flight list to the pool. For
// shutdown and debug capture only.
func (p *Pool) WaitIdle() error {
	err := p.device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "waiting for device idle")
	}

	for slot := range p.inFlight {
		for _, list := range p.inFlight[slot] {
			list.state = StateInitialized
			list.allocator = nil
			p.free[list.listType] = append(p.free[list.listType], list)
		}
		p.inFlight[slot] = p.inFlight[slot][:0]
	}
	return nil
}

// FreeCount returns the number of pooled lists of a type.
func (p *Pool) FreeCount(listType gpu.ListType) int {
	return len(p.free[listType])
}

// InFlightCount returns the number of lists submitted and not yet retired.
func (p *Pool) InFlightCount() int {
	total := 0
	for _, slot := range p.inFlight {
		total += len(slot)
	}
	return total
}

// Destroy tears down every list, allocator and the frame fence. Lists still
// recording or executing are reported before being destroyed.
func (p *Pool) Destroy() {
	for _, list := range p.lists {
		if list.state == StateRecording || list.state == StateExecuting {
			p.logger.Error("[UNRETURNED COMMAND LIST] destroying a command list still in use",
				slog.String("listType", list.listType.String()),
				slog.String("state", list.state.String()),
			)
			if p.sink != nil {
				p.sink.Message(gpu.MessageSeverityError, "command list destroyed while still in use")
			}
		}
		list.native.Destroy()
	}
	p.lists = nil
	for listType := 0; listType < gpu.ListTypeCount; listType++ {
		p.free[listType] = nil
		for slot, alloc := range p.allocators[listType] {
			if alloc != nil {
				alloc.native.Destroy()
				p.allocators[listType][slot] = nil
			}
		}
	}
	p.fence.Destroy()
}
