package shadow_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/autoindex"
	"github.com/vkngwrapper/retrofit/command"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/gpu/gputest"
	"github.com/vkngwrapper/retrofit/gpu/mocks"
	"github.com/vkngwrapper/retrofit/resource"
	"github.com/vkngwrapper/retrofit/shadow"
	"github.com/vkngwrapper/retrofit/track"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type testEnv struct {
	device    *gputest.FakeDevice
	allocator *arena.Allocator
	tracker   *track.Tracker
	pool      *command.Pool
	buffers   *resource.BufferManager
	shadow    *shadow.Shadow
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithSink(t, nil)
}

func newTestEnvWithSink(t *testing.T, sink gpu.MessageSink) *testEnv {
	t.Helper()

	device := &gputest.FakeDevice{}
	allocator, err := arena.New(testLogger(), device, arena.CreateOptions{})
	require.NoError(t, err)
	tracker := track.NewTracker(testLogger(), allocator, nil)
	indexer := autoindex.NewGenerator(testLogger(), allocator, tracker)
	pool, err := command.NewPool(testLogger(), device, command.CreateOptions{})
	require.NoError(t, err)

	facade, err := shadow.New(testLogger(), device, allocator, tracker, indexer, pool, shadow.CreateOptions{
		RenderFormat: gpu.FormatRGBA8,
		DepthFormat:  gpu.FormatDepth32,
		MessageSink:  sink,
	})
	require.NoError(t, err)

	return &testEnv{
		device:    device,
		allocator: allocator,
		tracker:   tracker,
		pool:      pool,
		buffers:   resource.NewBufferManager(testLogger(), allocator, tracker),
		shadow:    facade,
	}
}

// frameList exposes the fake list the façade is recording the frame into.
func (e *testEnv) frameList(t *testing.T) *gputest.FakeList {
	t.Helper()

	list, err := e.shadow.CurrentList()
	require.NoError(t, err)
	return list.Native().(*gputest.FakeList)
}

func (e *testEnv) vertexBuffer(t *testing.T, size int) arena.Handle {
	t.Helper()

	handle, err := e.buffers.Create(resource.BufferKindVertex, size, "verts")
	require.NoError(t, err)
	return handle
}

func TestQuiescentStateProducesNoDeviceCalls(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 1024)

	env.shadow.SetDepthTest(true)
	env.shadow.SetViewport(gpu.Viewport{Width: 640, Height: 480, MaxDepth: 1})
	env.shadow.BindVertexBuffer(verts, 32)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	settled := env.device.StateCalls()
	require.Greater(t, settled, 0)

	// The legacy stream repeats every state call before the next draw. None
	// of it reaches the device.
	env.shadow.SetDepthTest(true)
	env.shadow.SetDepthWrite(false)
	env.shadow.SetBlend(gpu.BlendModeOpaque)
	env.shadow.SetCull(gpu.CullModeBack)
	env.shadow.SetColorMask(0xf)
	env.shadow.SetPolygonMode(gpu.PolygonModeFill)
	env.shadow.SetViewport(gpu.Viewport{Width: 640, Height: 480, MaxDepth: 1})
	env.shadow.BindVertexBuffer(verts, 32)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	require.Equal(t, settled, env.device.StateCalls())
	require.Equal(t, 2, env.device.DrawCount())
}

func TestQuadDrawEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 1024)

	// The upload records into the same frame list the draws use.
	uploadList := env.frameList(t)
	payload := make([]byte, 128)
	require.NoError(t, env.buffers.Upload(uploadList, verts, payload, 0))

	env.shadow.BindVertexBuffer(verts, 32)
	require.NoError(t, env.shadow.Draw(gpu.TopologyQuadList, 4))

	// One quad becomes one 6-index draw against the shared quad pattern.
	drawList := env.frameList(t)
	require.Len(t, drawList.IndexedDraws, 1)
	draw := drawList.IndexedDraws[0]
	require.Equal(t, 6, draw.IndexCount)
	require.Equal(t, gpu.IndexFormatUint16, draw.Format)

	indexData := draw.IndexBuffer.(*gputest.FakeResource).Data
	expected := []uint16{0, 1, 2, 2, 3, 0}
	for i, want := range expected {
		require.Equal(t, want, binary.LittleEndian.Uint16(indexData[i*2:]))
	}

	// The second identical draw allocates nothing and re-records nothing but
	// the draw itself.
	creates := env.device.BufferCreates
	settled := env.device.StateCalls()
	require.NoError(t, env.shadow.Draw(gpu.TopologyQuadList, 4))
	require.Equal(t, creates, env.device.BufferCreates)
	require.Equal(t, settled, env.device.StateCalls())
	require.Len(t, drawList.IndexedDraws, 2)
}

func TestFrameLifecycleThroughPool(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 1024)
	env.shadow.BindVertexBuffer(verts, 32)

	require.NoError(t, env.shadow.Draw(gpu.TopologyQuadList, 4))
	require.NoError(t, env.shadow.EndFrame())

	// The frame's list was closed and handed to the graphics queue.
	require.Len(t, env.device.Queues[gpu.ListTypeGraphics].Executed, 1)
	require.Equal(t, 1, env.pool.InFlightCount())

	// BeginFrame advances both rings in lockstep.
	require.NoError(t, env.shadow.BeginFrame())
	require.Equal(t, 1, env.pool.RingIndex())
	require.Equal(t, 1, env.allocator.RingIndex())

	// Once the ring wraps back to the first slot, the next frame records into
	// the recycled list instead of creating another.
	require.NoError(t, env.shadow.BeginFrame())
	require.NoError(t, env.shadow.BeginFrame())
	lists := env.device.ListCreates
	require.NoError(t, env.shadow.Draw(gpu.TopologyQuadList, 4))
	require.Equal(t, lists, env.device.ListCreates)
	require.NoError(t, env.shadow.EndFrame())
}

func TestPipelineCacheHitsAndMisses(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)

	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	env.shadow.SetDepthTest(true)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	env.shadow.SetDepthTest(false)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	stats := env.shadow.Stats()
	require.Equal(t, uint64(2), stats.PipelineCacheMisses)
	require.Equal(t, uint64(1), stats.PipelineCacheHits)
	require.Equal(t, 2, env.device.PipelineCreates)
}

func TestPipelineFailureSkipsDraw(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sink := mocks.NewMockMessageSink(ctrl)
	sink.EXPECT().Message(gpu.MessageSeverityError, gomock.Any())

	env := newTestEnvWithSink(t, sink)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)

	env.device.FailPipelines = true
	err := env.shadow.Draw(gpu.TopologyTriangleList, 3)
	require.Error(t, err)
	require.Equal(t, 0, env.device.DrawCount())
	require.Equal(t, uint64(1), env.shadow.Stats().SkippedDraws)

	// The façade recovers once pipeline creation works again.
	env.device.FailPipelines = false
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	require.Equal(t, 1, env.device.DrawCount())
}

func TestBindTextureOutOfRangeIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sink := mocks.NewMockMessageSink(ctrl)
	sink.EXPECT().Message(gpu.MessageSeverityWarning, gomock.Any()).Times(2)

	env := newTestEnvWithSink(t, sink)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)

	tex, err := env.allocator.CreateTexture(gpu.TextureDesc{
		Width: 4, Height: 4, MipLevels: 1,
		Format:       gpu.FormatRGBA8,
		InitialState: gpu.ResourceStateShaderResource,
		DebugName:    "tex",
	})
	require.NoError(t, err)
	env.tracker.Register(tex, gpu.ResourceStateShaderResource)

	env.shadow.BindTexture(-1, tex)
	env.shadow.BindTexture(shadow.MaxTextureUnits, tex)

	// The stream carries on; the draw sees no texture bound.
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	require.Empty(t, env.frameList(t).Textures)
}

func TestUniformUploadOncePerChange(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)

	block := make([]byte, 64)
	block[0] = 42
	env.shadow.SetUniformData(block)
	env.shadow.SetUniformData(block)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	writes := 0
	for _, res := range env.device.Resources {
		writes += res.Writes
	}
	require.Equal(t, 1, writes)

	// Unchanged uniforms are not re-uploaded for the next draw.
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	writesAfter := 0
	for _, res := range env.device.Resources {
		writesAfter += res.Writes
	}
	require.Equal(t, writes, writesAfter)
}

func TestBeginFrameFlipsUniformBuffer(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)

	env.shadow.SetUniformData([]byte{1, 2, 3, 4})
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	require.NoError(t, env.shadow.BeginFrame())
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	// Each frame's draw sourced uniforms from a different buffer.
	require.Equal(t, 2, env.device.Resources[0].Writes+env.device.Resources[1].Writes)
	require.Equal(t, 1, env.device.Resources[0].Writes)
	require.Equal(t, 1, env.device.Resources[1].Writes)
}

func TestDrawWithoutVertexBufferRejected(t *testing.T) {
	env := newTestEnv(t)

	require.Error(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))
	require.Error(t, env.shadow.DrawIndexed(gpu.TopologyTriangleList, 3, 0, 0))
	require.Equal(t, 0, env.device.DrawCount())
}

func TestEmulatedTopologyTransitionsFlushBeforeDraw(t *testing.T) {
	env := newTestEnv(t)

	// A vertex buffer the tracker believes is in the copy-dest state forces
	// a transition at draw time.
	handle, err := env.allocator.CreateBuffer(gpu.BufferDesc{
		Size:         256,
		HeapClass:    gpu.HeapClassDeviceLocal,
		InitialState: gpu.ResourceStateCopyDest,
		DebugName:    "verts",
	})
	require.NoError(t, err)
	env.tracker.Register(handle, gpu.ResourceStateCopyDest)
	env.shadow.BindVertexBuffer(handle, 16)

	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleFan, 5))

	list := env.frameList(t)
	require.Len(t, list.BarrierBatches, 1)
	require.Equal(t, gpu.ResourceStateVertexAndConstantBuffer, list.BarrierBatches[0][0].After)
	require.Len(t, list.IndexedDraws, 1)
	require.Equal(t, 9, list.IndexedDraws[0].IndexCount)
}

func TestStatsNeverMutate(t *testing.T) {
	env := newTestEnv(t)
	verts := env.vertexBuffer(t, 256)
	env.shadow.BindVertexBuffer(verts, 16)
	require.NoError(t, env.shadow.Draw(gpu.TopologyTriangleList, 3))

	before := env.shadow.Stats()
	for i := 0; i < 5; i++ {
		require.Equal(t, before, env.shadow.Stats())
	}
}
