// Package track records the last-known explicit-API state of every live
// resource and batches the transition barriers needed to move resources
// between states.
package track

import (
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
)

// Tracker mirrors resource states and accumulates pending barriers.
//
// State updates are optimistic: Transition updates the tracked state before
// the barrier is actually recorded. This is correct only because Flush always
// runs before the next command that depends on the new state is recorded —
// that ordering is a load-bearing invariant of the whole engine, not an
// implementation detail.
//
// The tracker is mutated only from the producer thread. Statistics counters
// are atomic so a reporting thread may read them concurrently.
type Tracker struct {
	logger *slog.Logger
	arena  *arena.Allocator
	sink   gpu.MessageSink

	states  *swiss.Map[arena.Handle, gpu.ResourceState]
	pending []gpu.Barrier

	issued   utils.Counter
	avoided  utils.Counter
	implicit utils.Counter
}

// Stats is a snapshot of the tracker's barrier counters.
type Stats struct {
	// IssuedBarriers counts barriers actually recorded through Flush.
	IssuedBarriers uint64
	// AvoidedBarriers counts transitions that were no-ops because the
	// resource was already in the target state.
	AvoidedBarriers uint64
	// ImplicitRegistrations counts resources first seen through Transition
	// rather than Register. A non-zero value in a strict harness usually
	// points at a missing registration.
	ImplicitRegistrations uint64
}

// NewTracker creates a Tracker over the provided allocator. The sink is
// optional and receives validation warnings.
func NewTracker(logger *slog.Logger, allocator *arena.Allocator, sink gpu.MessageSink) *Tracker {
	return &Tracker{
		logger: logger,
		arena:  allocator,
		sink:   sink,
		states: swiss.NewMap[arena.Handle, gpu.ResourceState](64),
	}
}

// Register records the current state of a resource. Lifecycle managers call
// this at creation time with the resource's initial state.
func (t *Tracker) Register(handle arena.Handle, state gpu.ResourceState) {
	if handle == arena.NilHandle {
		return
	}
	t.states.Put(handle, state)
}

// Forget drops the tracked state for a resource. Called when the resource is
// retired; transitions for unknown handles after this point re-register
// implicitly.
func (t *Tracker) Forget(handle arena.Handle) {
	t.states.Delete(handle)
}

// TrackedState returns the tracked state for a handle. The second return
// value is false for unregistered handles.
func (t *Tracker) TrackedState(handle arena.Handle) (gpu.ResourceState, bool) {
	return t.states.Get(handle)
}

// Transition requests that a resource be in targetState by the time the next
// dependent command executes. A transition to the current tracked state is a
// no-op. A handle the tracker has never seen is registered as already being
// in the target state: the legacy call stream discovers resources late, so
// first use is treated as registration rather than an error (the occurrence
// is counted in Stats).
func (t *Tracker) Transition(handle arena.Handle, targetState gpu.ResourceState) {
	res := t.arena.Resource(handle)
	if res == nil {
		t.warn("Transition called with an unknown resource handle")
		return
	}

	current, known := t.states.Get(handle)
	if !known {
		t.states.Put(handle, targetState)
		t.implicit.Inc()
		return
	}

	if current == targetState {
		t.avoided.Inc()
		return
	}

	t.pending = append(t.pending, gpu.Barrier{
		Kind:     gpu.BarrierKindTransition,
		Resource: res.Native(),
		Before:   current,
		After:    targetState,
	})
	// Optimistic: the barrier is pending, but every dependent command records
	// after Flush, so the tracked state can move now.
	t.states.Put(handle, targetState)
}

// UAVBarrier orders read-after-write hazards on an unordered-access resource
// without changing its state.
func (t *Tracker) UAVBarrier(handle arena.Handle) {
	res := t.arena.Resource(handle)
	if res == nil {
		t.warn("UAVBarrier called with an unknown resource handle")
		return
	}

	t.pending = append(t.pending, gpu.Barrier{
		Kind:     gpu.BarrierKindUAV,
		Resource: res.Native(),
	})
}

// AliasingBarrier separates use of two resources that share physical memory.
func (t *Tracker) AliasingBarrier(before, after arena.Handle) {
	beforeRes := t.arena.Resource(before)
	afterRes := t.arena.Resource(after)
	if beforeRes == nil || afterRes == nil {
		t.warn("AliasingBarrier called with an unknown resource handle")
		return
	}

	t.pending = append(t.pending, gpu.Barrier{
		Kind:        gpu.BarrierKindAliasing,
		AliasBefore: beforeRes.Native(),
		AliasAfter:  afterRes.Native(),
	})
}

// Flush records every pending barrier into the list as one batched call and
// clears the pending set. Flushing with nothing pending records nothing.
func (t *Tracker) Flush(list gpu.CommandList) {
	if len(t.pending) == 0 {
		return
	}

	list.Barriers(t.pending)
	t.issued.Add(len(t.pending))
	t.logger.Debug("Tracker::Flush", slog.Int("barriers", len(t.pending)))
	t.pending = t.pending[:0]
}

// PendingCount returns the number of barriers waiting for the next Flush.
func (t *Tracker) PendingCount() int {
	return len(t.pending)
}

// Stats returns a snapshot of the barrier counters. Safe to call from a
// reporting thread; never mutates tracker state.
func (t *Tracker) Stats() Stats {
	return Stats{
		IssuedBarriers:        t.issued.Load(),
		AvoidedBarriers:       t.avoided.Load(),
		ImplicitRegistrations: t.implicit.Load(),
	}
}

func (t *Tracker) warn(message string) {
	t.logger.Warn(message)
	if t.sink != nil {
		t.sink.Message(gpu.MessageSeverityWarning, message)
	}
}
