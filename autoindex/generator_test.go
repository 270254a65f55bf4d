package autoindex_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/autoindex"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/gpu/gputest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T) (*autoindex.Generator, *arena.Allocator, *gputest.FakeDevice) {
	t.Helper()

	device := &gputest.FakeDevice{}
	allocator, err := arena.New(testLogger(), device, arena.CreateOptions{})
	require.NoError(t, err)
	return autoindex.NewGenerator(testLogger(), allocator, nil), allocator, device
}

func TestQuadPattern(t *testing.T) {
	indices, err := autoindex.Pattern(gpu.TopologyQuadList, 8)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 2, 3, 0, 4, 5, 6, 6, 7, 4}, indices)
}

func TestTriangleFanPattern(t *testing.T) {
	indices, err := autoindex.Pattern(gpu.TopologyTriangleFan, 5)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 0, 2, 3, 0, 3, 4}, indices)
}

func TestLineStripPattern(t *testing.T) {
	indices, err := autoindex.Pattern(gpu.TopologyLineStrip, 4)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 1, 2, 2, 3}, indices)
}

func TestTriangleStripWindingAlternates(t *testing.T) {
	indices, err := autoindex.Pattern(gpu.TopologyTriangleStrip, 5)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 2, 1, 3, 2, 3, 4}, indices)
}

func TestIndexCounts(t *testing.T) {
	require.Equal(t, 6, autoindex.IndexCount(gpu.TopologyQuadList, 4))
	require.Equal(t, 12, autoindex.IndexCount(gpu.TopologyQuadList, 8))
	require.Equal(t, 9, autoindex.IndexCount(gpu.TopologyTriangleFan, 5))
	require.Equal(t, 9, autoindex.IndexCount(gpu.TopologyTriangleStrip, 5))
	require.Equal(t, 7, autoindex.IndexCount(gpu.TopologyLineList, 7))
	require.Equal(t, 6, autoindex.IndexCount(gpu.TopologyLineStrip, 4))
	require.Equal(t, 0, autoindex.IndexCount(gpu.TopologyTriangleFan, 2))
}

func TestEnsureCapacityReusesBuffer(t *testing.T) {
	generator, _, device := newTestGenerator(t)

	first, err := generator.EnsureCapacity(gpu.TopologyQuadList, 8)
	require.NoError(t, err)
	require.Equal(t, gpu.IndexFormatUint16, first.Format)
	require.Equal(t, 12, first.IndexCount)
	require.Equal(t, 1, device.BufferCreates)

	// An identical request must allocate nothing and write nothing.
	second, err := generator.EnsureCapacity(gpu.TopologyQuadList, 8)
	require.NoError(t, err)
	require.Equal(t, first.Handle, second.Handle)
	require.Equal(t, 1, device.BufferCreates)
	require.Equal(t, uint64(1), generator.Stats().Hits)
	require.Equal(t, uint64(1), generator.Stats().Regenerations)
}

func TestEnsureCapacityGrowsByDoubling(t *testing.T) {
	generator, _, device := newTestGenerator(t)

	small, err := generator.EnsureCapacity(gpu.TopologyLineList, 100)
	require.NoError(t, err)

	grown, err := generator.EnsureCapacity(gpu.TopologyLineList, 3000)
	require.NoError(t, err)
	require.NotEqual(t, small.Handle, grown.Handle)
	require.Equal(t, 2, device.BufferCreates)

	// The doubled capacity covers intermediate sizes without another build.
	_, err = generator.EnsureCapacity(gpu.TopologyLineList, 2000)
	require.NoError(t, err)
	require.Equal(t, 2, device.BufferCreates)
}

func TestFormatPromotionTo32Bit(t *testing.T) {
	generator, _, _ := newTestGenerator(t)

	wide, err := generator.EnsureCapacity(gpu.TopologyLineList, autoindex.Max16BitVertices)
	require.NoError(t, err)
	require.Equal(t, gpu.IndexFormatUint16, wide.Format)

	// One vertex past the 16-bit range forces a full 32-bit regeneration.
	promoted, err := generator.EnsureCapacity(gpu.TopologyLineList, autoindex.Max16BitVertices+1)
	require.NoError(t, err)
	require.Equal(t, gpu.IndexFormatUint32, promoted.Format)
	require.NotEqual(t, wide.Handle, promoted.Handle)
	require.Equal(t, uint64(2), generator.Stats().Regenerations)
}

func TestTopologiesKeepIndependentBuffers(t *testing.T) {
	generator, _, device := newTestGenerator(t)

	quads, err := generator.EnsureCapacity(gpu.TopologyQuadList, 8)
	require.NoError(t, err)
	fan, err := generator.EnsureCapacity(gpu.TopologyTriangleFan, 8)
	require.NoError(t, err)

	require.NotEqual(t, quads.Handle, fan.Handle)
	require.Equal(t, 2, device.BufferCreates)
}

func TestNativeTopologyRejected(t *testing.T) {
	generator, _, _ := newTestGenerator(t)

	_, err := generator.EnsureCapacity(gpu.TopologyTriangleList, 8)
	require.Error(t, err)
}

func TestDestroyReleasesBuffers(t *testing.T) {
	generator, allocator, _ := newTestGenerator(t)

	_, err := generator.EnsureCapacity(gpu.TopologyQuadList, 8)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.ActiveResourceCount())

	generator.Destroy()
	require.Equal(t, 1, allocator.PendingFreeCount())
}
