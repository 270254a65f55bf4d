package track_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/gpu/gputest"
	"github.com/vkngwrapper/retrofit/track"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestTracker(t *testing.T) (*track.Tracker, *arena.Allocator, *gputest.FakeDevice) {
	t.Helper()

	device := &gputest.FakeDevice{}
	allocator, err := arena.New(testLogger(), device, arena.CreateOptions{})
	require.NoError(t, err)
	return track.NewTracker(testLogger(), allocator, nil), allocator, device
}

func createBuffer(t *testing.T, allocator *arena.Allocator, state gpu.ResourceState) arena.Handle {
	t.Helper()

	handle, err := allocator.CreateBuffer(gpu.BufferDesc{Size: 64, InitialState: state})
	require.NoError(t, err)
	return handle
}

func TestRedundantTransitionIsAvoided(t *testing.T) {
	tracker, allocator, _ := newTestTracker(t)
	handle := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(handle, gpu.ResourceStateCommon)

	tracker.Transition(handle, gpu.ResourceStateCommon)
	require.Equal(t, 0, tracker.PendingCount())
	require.Equal(t, uint64(1), tracker.Stats().AvoidedBarriers)
}

func TestBarrierMinimalityAcrossTwoDraws(t *testing.T) {
	tracker, allocator, device := newTestTracker(t)
	handle := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(handle, gpu.ResourceStateCommon)

	alloc, err := device.CreateCommandAllocator(gpu.ListTypeGraphics)
	require.NoError(t, err)
	native, err := device.CreateCommandList(gpu.ListTypeGraphics, alloc)
	require.NoError(t, err)
	list := native.(*gputest.FakeList)

	// A -> B before the first draw, B -> A before the second. Exactly two
	// barriers total, one per flush.
	tracker.Transition(handle, gpu.ResourceStateShaderResource)
	tracker.Flush(list)
	tracker.Transition(handle, gpu.ResourceStateCommon)
	tracker.Flush(list)

	require.Len(t, list.BarrierBatches, 2)
	require.Len(t, list.BarrierBatches[0], 1)
	require.Len(t, list.BarrierBatches[1], 1)
	require.Equal(t, uint64(2), tracker.Stats().IssuedBarriers)
}

func TestTransitionBatchesUntilFlush(t *testing.T) {
	tracker, allocator, device := newTestTracker(t)
	first := createBuffer(t, allocator, gpu.ResourceStateCommon)
	second := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(first, gpu.ResourceStateCommon)
	tracker.Register(second, gpu.ResourceStateCommon)

	tracker.Transition(first, gpu.ResourceStateCopyDest)
	tracker.Transition(second, gpu.ResourceStateShaderResource)
	require.Equal(t, 2, tracker.PendingCount())

	alloc, _ := device.CreateCommandAllocator(gpu.ListTypeGraphics)
	native, _ := device.CreateCommandList(gpu.ListTypeGraphics, alloc)
	list := native.(*gputest.FakeList)

	tracker.Flush(list)
	require.Equal(t, 0, tracker.PendingCount())
	require.Len(t, list.BarrierBatches, 1)
	require.Len(t, list.BarrierBatches[0], 2)

	// An empty flush must not record an empty batch.
	tracker.Flush(list)
	require.Len(t, list.BarrierBatches, 1)
}

func TestOptimisticStateUpdate(t *testing.T) {
	tracker, allocator, _ := newTestTracker(t)
	handle := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(handle, gpu.ResourceStateCommon)

	tracker.Transition(handle, gpu.ResourceStateCopyDest)

	// Tracked state moves before the flush happens.
	state, known := tracker.TrackedState(handle)
	require.True(t, known)
	require.Equal(t, gpu.ResourceStateCopyDest, state)
	require.Equal(t, 1, tracker.PendingCount())

	// A second request for the same state piggybacks on the pending barrier.
	tracker.Transition(handle, gpu.ResourceStateCopyDest)
	require.Equal(t, 1, tracker.PendingCount())
}

func TestUnregisteredHandleImplicitlyRegistered(t *testing.T) {
	tracker, allocator, _ := newTestTracker(t)
	handle := createBuffer(t, allocator, gpu.ResourceStateCommon)

	tracker.Transition(handle, gpu.ResourceStateIndexBuffer)

	// No barrier: the resource is adopted at the requested state.
	require.Equal(t, 0, tracker.PendingCount())
	require.Equal(t, uint64(1), tracker.Stats().ImplicitRegistrations)

	state, known := tracker.TrackedState(handle)
	require.True(t, known)
	require.Equal(t, gpu.ResourceStateIndexBuffer, state)
}

func TestForgetDropsState(t *testing.T) {
	tracker, allocator, _ := newTestTracker(t)
	handle := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(handle, gpu.ResourceStateCommon)

	tracker.Forget(handle)
	_, known := tracker.TrackedState(handle)
	require.False(t, known)
}

func TestUAVAndAliasingBarriers(t *testing.T) {
	tracker, allocator, device := newTestTracker(t)
	first := createBuffer(t, allocator, gpu.ResourceStateUnorderedAccess)
	second := createBuffer(t, allocator, gpu.ResourceStateCommon)
	tracker.Register(first, gpu.ResourceStateUnorderedAccess)
	tracker.Register(second, gpu.ResourceStateCommon)

	tracker.UAVBarrier(first)
	tracker.AliasingBarrier(first, second)
	require.Equal(t, 2, tracker.PendingCount())

	alloc, _ := device.CreateCommandAllocator(gpu.ListTypeCompute)
	native, _ := device.CreateCommandList(gpu.ListTypeCompute, alloc)
	list := native.(*gputest.FakeList)
	tracker.Flush(list)

	require.Len(t, list.BarrierBatches, 1)
	require.Equal(t, gpu.BarrierKindUAV, list.BarrierBatches[0][0].Kind)
	require.Equal(t, gpu.BarrierKindAliasing, list.BarrierBatches[0][1].Kind)
}

func TestUnknownHandleIsANoOp(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	tracker.Transition(arena.Handle(12345), gpu.ResourceStateCommon)
	require.Equal(t, 0, tracker.PendingCount())
}
