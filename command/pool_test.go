package command_test

import (
	"io"
	"strings"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/command"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/gpu/gputest"
	"github.com/vkngwrapper/retrofit/gpu/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestPool(t *testing.T) (*command.Pool, *gputest.FakeDevice) {
	t.Helper()

	device := &gputest.FakeDevice{}
	pool, err := command.NewPool(testLogger(), device, command.CreateOptions{})
	require.NoError(t, err)
	return pool, device
}

func TestGetReturnsRecordingList(t *testing.T) {
	pool, device := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.Equal(t, command.StateRecording, list.State())
	require.Equal(t, gpu.ListTypeGraphics, list.Type())
	require.Equal(t, 1, device.ListCreates)
	require.Equal(t, 1, device.AllocatorCreates)
}

func TestLifecycleStateMachine(t *testing.T) {
	pool, _ := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)

	// A recording list cannot be submitted or returned.
	require.Error(t, pool.Execute(list))
	require.Error(t, pool.Return(list))

	require.NoError(t, list.Close())
	require.Error(t, list.Close())

	require.NoError(t, pool.Execute(list))
	require.Equal(t, command.StateExecuting, list.State())
	require.Equal(t, 1, pool.InFlightCount())
}

func TestListRecycledWhenSlotRetires(t *testing.T) {
	pool, device := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, pool.Execute(list))

	// The list was submitted in slot 0; it comes back only when the ring
	// re-enters that slot.
	require.NoError(t, pool.AdvanceFrame())
	require.NoError(t, pool.AdvanceFrame())
	require.Equal(t, 0, pool.FreeCount(gpu.ListTypeGraphics))

	require.NoError(t, pool.AdvanceFrame())
	require.Equal(t, 1, pool.FreeCount(gpu.ListTypeGraphics))
	require.Equal(t, command.StateInitialized, list.State())

	// The next Get reuses the pooled list instead of creating another.
	recycled, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.Same(t, list, recycled)
	require.Equal(t, command.StateRecording, recycled.State())
	require.Equal(t, 1, device.ListCreates)
}

func TestAllocatorsResetOnSlotReentry(t *testing.T) {
	pool, _ := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, pool.Execute(list))

	require.NoError(t, pool.AdvanceFrame())
	require.NoError(t, pool.AdvanceFrame())
	require.NoError(t, pool.AdvanceFrame())

	alloc := list.Native().(*gputest.FakeList).Allocator.(*gputest.FakeAllocator)
	require.Equal(t, 1, alloc.Resets)
}

func TestAllocatorsPartitionedBySlot(t *testing.T) {
	pool, device := newTestPool(t)

	_, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, pool.AdvanceFrame())

	// Slot 1 must not record into slot 0's allocator.
	_, err = pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.Equal(t, 2, device.AllocatorCreates)
}

func TestSubmissionFailureIsPermanent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The failure must be surfaced through the message sink exactly once.
	sink := mocks.NewMockMessageSink(ctrl)
	sink.EXPECT().Message(gpu.MessageSeverityError, "command list submission failed")

	device := &gputest.FakeDevice{}
	pool, err := command.NewPool(testLogger(), device, command.CreateOptions{MessageSink: sink})
	require.NoError(t, err)
	device.FailSubmit = true

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, list.Close())

	err = pool.Execute(list)
	require.Error(t, err)
	require.Equal(t, command.StateClosed, list.State())
	require.Equal(t, 0, pool.InFlightCount())
	require.Empty(t, device.Queues[gpu.ListTypeGraphics].Executed)

	// The failed list can still be handed back for reuse.
	require.NoError(t, pool.Return(list))
	require.Equal(t, 1, pool.FreeCount(gpu.ListTypeGraphics))
}

func TestExecuteListsRejectsMixedTypes(t *testing.T) {
	pool, _ := newTestPool(t)

	graphics, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	copyList, err := pool.Get(gpu.ListTypeCopy)
	require.NoError(t, err)
	require.NoError(t, graphics.Close())
	require.NoError(t, copyList.Close())

	require.Error(t, pool.ExecuteLists([]*command.List{graphics, copyList}))
}

func TestRingSizeValidation(t *testing.T) {
	device := &gputest.FakeDevice{}
	_, err := command.NewPool(testLogger(), device, command.CreateOptions{RingSize: 1})
	require.Error(t, err)
}

func TestWaitIdleDrainsInFlight(t *testing.T) {
	pool, _ := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, pool.Execute(list))

	require.NoError(t, pool.WaitIdle())
	require.Equal(t, 0, pool.InFlightCount())
	require.Equal(t, 1, pool.FreeCount(gpu.ListTypeGraphics))
}

func TestBuildStatsString(t *testing.T) {
	pool, _ := newTestPool(t)

	list, err := pool.Get(gpu.ListTypeGraphics)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, pool.Execute(list))

	writer := jwriter.NewWriter()
	pool.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	stats := string(writer.Bytes())
	require.True(t, strings.Contains(stats, `"RingSize":3`), stats)
	require.True(t, strings.Contains(stats, `"Submissions":1`), stats)
	require.True(t, strings.Contains(stats, `"InFlight":1`), stats)
}
