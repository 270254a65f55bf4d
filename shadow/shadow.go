// Package shadow is the legacy-facing façade. It mirrors the full legacy
// render state on the CPU, drops redundant state calls at the door, and only
// converges the device to the shadowed state when a draw actually needs it:
// pipeline lookup, resource transitions, index emulation and uniform upload
// all happen at draw time, once. Draws record into a graphics list obtained
// from the command pool; EndFrame closes and submits it, and BeginFrame
// advances the allocator ring and the pool ring together.
package shadow

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/autoindex"
	"github.com/vkngwrapper/retrofit/command"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
	"github.com/vkngwrapper/retrofit/track"
)

// DefaultUniformBufferSize is the byte size of each per-frame uniform buffer.
const DefaultUniformBufferSize = 16384

// CreateOptions configures façade creation.
type CreateOptions struct {
	// UniformBufferSize is the size of each of the two per-frame uniform
	// buffers. 0 selects DefaultUniformBufferSize.
	UniformBufferSize int
	// RenderFormat and DepthFormat are the formats pipelines render into.
	RenderFormat gpu.Format
	DepthFormat  gpu.Format
	// MessageSink optionally receives validation warnings and errors.
	MessageSink gpu.MessageSink
}

// applied mirrors what the current command list has actually been told. It is
// cleared at frame begin, because a freshly reset list remembers nothing.
type applied struct {
	pipeline gpu.Pipeline
	viewport bool
	vertex   bool
	constant bool
	index    arena.Handle
	textures [MaxTextureUnits]bool
}

// Shadow is the legacy state shadow. All methods must be called from the
// producer thread; statistics counters are atomic so a reporting thread may
// read them concurrently.
type Shadow struct {
	logger  *slog.Logger
	device  gpu.Device
	arena   *arena.Allocator
	tracker *track.Tracker
	indexer *autoindex.Generator
	pool    *command.Pool
	sink    gpu.MessageSink

	// list is the frame's graphics command list, acquired from the pool on
	// first use and submitted at EndFrame.
	list *command.List

	state        pipelineState
	viewport     gpu.Viewport
	textures     [MaxTextureUnits]arena.Handle
	vertexBuffer arena.Handle
	vertexStride int
	indexBuffer  arena.Handle
	indexFormat  gpu.IndexFormat

	uniforms      []byte
	uniformsDirty bool

	vs, ps       gpu.ShaderModule
	shaderIDs    map[gpu.ShaderModule]uint32
	nextShaderID uint32

	pipelines *swiss.Map[uint64, gpu.Pipeline]

	uniformBuffers [2]arena.Handle
	uniformParity  int

	applied applied

	cacheHits    utils.Counter
	cacheMisses  utils.Counter
	draws        utils.Counter
	skippedDraws utils.Counter
	frames       utils.Counter
}

// New creates the façade. The two uniform buffers are created up front so a
// creation failure surfaces at startup, not at the first draw.
func New(
	logger *slog.Logger,
	device gpu.Device,
	allocator *arena.Allocator,
	tracker *track.Tracker,
	indexer *autoindex.Generator,
	pool *command.Pool,
	options CreateOptions,
) (*Shadow, error) {
	if pool == nil {
		return nil, errors.New("shadow.New: command pool must not be nil")
	}
	uniformSize := options.UniformBufferSize
	if uniformSize == 0 {
		uniformSize = DefaultUniformBufferSize
	}
	if uniformSize < 0 {
		return nil, errors.Newf("uniform buffer size %d must be positive", uniformSize)
	}

	s := &Shadow{
		logger:    logger,
		device:    device,
		arena:     allocator,
		tracker:   tracker,
		indexer:   indexer,
		pool:      pool,
		sink:      options.MessageSink,
		shaderIDs: make(map[gpu.ShaderModule]uint32),
		pipelines: swiss.NewMap[uint64, gpu.Pipeline](32),
	}
	s.state.cull = gpu.CullModeBack
	s.state.colorMask = 0xf
	s.state.topology = gpu.TopologyTriangleList
	s.state.renderFormat = options.RenderFormat
	s.state.depthFormat = options.DepthFormat

	for i := range s.uniformBuffers {
		handle, err := allocator.CreateBuffer(gpu.BufferDesc{
			Size:         uniformSize,
			HeapClass:    gpu.HeapClassUpload,
			InitialState: gpu.ResourceStateVertexAndConstantBuffer,
			DebugName:    "shadow/uniforms",
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating shadow uniform buffer")
		}
		tracker.Register(handle, gpu.ResourceStateVertexAndConstantBuffer)
		s.uniformBuffers[i] = handle
	}

	return s, nil
}

func (s *Shadow) SetDepthTest(enabled bool) {
	if s.state.depthTest == enabled {
		return
	}
	s.state.depthTest = enabled
	s.applied.pipeline = nil
}

func (s *Shadow) SetDepthWrite(enabled bool) {
	if s.state.depthWrite == enabled {
		return
	}
	s.state.depthWrite = enabled
	s.applied.pipeline = nil
}

func (s *Shadow) SetDepthBias(bias, slopeBias float32) {
	if s.state.depthBias == bias && s.state.slopeBias == slopeBias {
		return
	}
	s.state.depthBias = bias
	s.state.slopeBias = slopeBias
	s.applied.pipeline = nil
}

func (s *Shadow) SetBlend(mode gpu.BlendMode) {
	if s.state.blend == mode {
		return
	}
	s.state.blend = mode
	s.applied.pipeline = nil
}

func (s *Shadow) SetCull(mode gpu.CullMode) {
	if s.state.cull == mode {
		return
	}
	s.state.cull = mode
	s.applied.pipeline = nil
}

func (s *Shadow) SetColorMask(mask uint8) {
	if s.state.colorMask == mask {
		return
	}
	s.state.colorMask = mask
	s.applied.pipeline = nil
}

func (s *Shadow) SetPolygonMode(mode gpu.PolygonMode) {
	if s.state.polygon == mode {
		return
	}
	s.state.polygon = mode
	s.applied.pipeline = nil
}

func (s *Shadow) SetVertexFormat(format gpu.VertexFormat) {
	if vertexFormatsEqual(s.state.vertexFormat, format) {
		return
	}
	s.state.vertexFormat = format
	s.applied.pipeline = nil
}

// SetShaders binds the shader pair pipelines are built with. Modules are
// identified by registration order for the cache key.
func (s *Shadow) SetShaders(vs, ps gpu.ShaderModule) {
	if s.vs == vs && s.ps == ps {
		return
	}
	s.vs = vs
	s.ps = ps
	s.state.vsID = s.shaderID(vs)
	s.state.psID = s.shaderID(ps)
	s.applied.pipeline = nil
}

func (s *Shadow) shaderID(module gpu.ShaderModule) uint32 {
	if module == nil {
		return 0
	}
	id, ok := s.shaderIDs[module]
	if !ok {
		s.nextShaderID++
		id = s.nextShaderID
		s.shaderIDs[module] = id
	}
	return id
}

func (s *Shadow) SetViewport(viewport gpu.Viewport) {
	if s.viewport == viewport {
		return
	}
	s.viewport = viewport
	s.applied.viewport = false
}

// BindTexture shadows a texture binding. An out-of-range unit is reported and
// ignored; the legacy stream carries on.
func (s *Shadow) BindTexture(unit int, handle arena.Handle) {
	if unit < 0 || unit >= MaxTextureUnits {
		s.logger.Warn("texture bound to an out-of-range unit, ignored",
			slog.Int("unit", unit),
			slog.Int("maxUnits", MaxTextureUnits))
		if s.sink != nil {
			s.sink.Message(gpu.MessageSeverityWarning, "texture bound to an out-of-range unit, ignored")
		}
		return
	}
	if s.textures[unit] == handle {
		return
	}
	s.textures[unit] = handle
	s.applied.textures[unit] = false
}

func (s *Shadow) BindVertexBuffer(handle arena.Handle, strideBytes int) {
	if s.vertexBuffer == handle && s.vertexStride == strideBytes {
		return
	}
	s.vertexBuffer = handle
	s.vertexStride = strideBytes
	s.applied.vertex = false
}

func (s *Shadow) BindIndexBuffer(handle arena.Handle, format gpu.IndexFormat) {
	if s.indexBuffer == handle && s.indexFormat == format {
		return
	}
	s.indexBuffer = handle
	s.indexFormat = format
	if s.applied.index == handle {
		s.applied.index = arena.NilHandle
	}
}

// SetUniformData replaces the uniform block. Identical contents are dropped;
// changed contents are uploaded once before the next draw, not per call.
func (s *Shadow) SetUniformData(data []byte) {
	if !s.uniformsDirty && bytes.Equal(s.uniforms, data) {
		return
	}
	s.uniforms = append(s.uniforms[:0], data...)
	s.uniformsDirty = true
}

// BeginFrame opens a new frame: any leftover command list is submitted, the
// allocator ring and the pool ring advance together, the uniform double-buffer
// flips and the applied state is cleared, because the new frame's command list
// starts blank and must be told everything once.
func (s *Shadow) BeginFrame() error {
	err := s.EndFrame()
	if err != nil {
		return err
	}

	s.arena.BeginFrame()
	err = s.pool.AdvanceFrame()
	if err != nil {
		return errors.Wrap(err, "advancing the command pool frame")
	}

	s.uniformParity = 1 - s.uniformParity
	s.applied = applied{}
	if len(s.uniforms) > 0 {
		// The incoming parity's buffer holds last frame's data.
		s.uniformsDirty = true
	}
	s.frames.Inc()
	return nil
}

// EndFrame closes the frame's command list and submits it through the pool.
// A frame that recorded nothing submits nothing. Kept separate from Present
// so a headless harness can run frames without a swap chain.
func (s *Shadow) EndFrame() error {
	if s.list == nil {
		return nil
	}
	list := s.list
	s.list = nil

	err := list.Close()
	if err != nil {
		return errors.Wrap(err, "closing the frame command list")
	}
	err = s.pool.Execute(list)
	if err != nil {
		// The frame's work is lost; recycle the list rather than leaking it.
		_ = s.pool.Return(list)
		return errors.Wrap(err, "submitting the frame command list")
	}

	s.logger.Debug("Shadow::EndFrame",
		slog.Uint64("frame", s.frames.Load()),
		slog.Uint64("draws", s.draws.Load()))
	return nil
}

// Present marks the frame presented. Swap-chain flipping itself belongs to
// the device layer.
func (s *Shadow) Present() error {
	return s.EndFrame()
}

// CurrentList returns the frame's graphics command list, acquiring one from
// the pool on first use. Hosts record auxiliary work, such as resource
// uploads, into the same list so it lands before the frame's draws.
func (s *Shadow) CurrentList() (*command.List, error) {
	if s.list != nil {
		return s.list, nil
	}
	list, err := s.pool.Get(gpu.ListTypeGraphics)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring the frame command list")
	}
	s.list = list
	return list, nil
}

// Draw resolves the shadowed state and records a draw of vertexCount vertices
// under the legacy topology into the frame's pool list. Emulated topologies
// are rewritten into indexed draws against the auto-index pool.
func (s *Shadow) Draw(topology gpu.Topology, vertexCount int) error {
	if vertexCount <= 0 {
		return nil
	}
	if s.vertexBuffer == arena.NilHandle {
		return errors.New("draw with no vertex buffer bound")
	}
	frameList, err := s.CurrentList()
	if err != nil {
		return err
	}
	list := frameList.Native()
	s.setTopology(topology)

	if !autoindex.Emulated(topology) {
		err = s.converge(list, arena.NilHandle, gpu.IndexFormatUint16)
		if err != nil {
			return err
		}
		list.Draw(vertexCount, 0)
		s.draws.Inc()
		return nil
	}

	binding, err := s.indexer.EnsureCapacity(topology, vertexCount)
	if err != nil {
		s.skippedDraws.Inc()
		return errors.Wrapf(err, "emulating %s", topology)
	}

	err = s.converge(list, binding.Handle, binding.Format)
	if err != nil {
		return err
	}
	list.DrawIndexed(binding.IndexCount, 0, 0)
	s.draws.Inc()
	return nil
}

// DrawIndexed resolves the shadowed state and records an indexed draw against
// the application's bound index buffer into the frame's pool list.
func (s *Shadow) DrawIndexed(topology gpu.Topology, indexCount, firstIndex, baseVertex int) error {
	if indexCount <= 0 {
		return nil
	}
	if s.vertexBuffer == arena.NilHandle {
		return errors.New("indexed draw with no vertex buffer bound")
	}
	if s.indexBuffer == arena.NilHandle {
		return errors.New("indexed draw with no index buffer bound")
	}
	frameList, err := s.CurrentList()
	if err != nil {
		return err
	}
	list := frameList.Native()
	s.setTopology(topology)

	err = s.converge(list, s.indexBuffer, s.indexFormat)
	if err != nil {
		return err
	}
	list.DrawIndexed(indexCount, firstIndex, baseVertex)
	s.draws.Inc()
	return nil
}

func (s *Shadow) setTopology(topology gpu.Topology) {
	if s.state.topology == topology {
		return
	}
	// Only a change in the pipeline's native topology invalidates it; a fan
	// and a strip both draw as triangle lists.
	if nativeTopology(s.state.topology) != nativeTopology(topology) {
		s.applied.pipeline = nil
	}
	s.state.topology = topology
}

// converge brings the command list up to date with the shadowed state. All
// transitions are flushed in one batch before any binding is recorded.
func (s *Shadow) converge(list gpu.CommandList, indexHandle arena.Handle, indexFormat gpu.IndexFormat) error {
	pipeline, err := s.resolvePipeline()
	if err != nil {
		s.skippedDraws.Inc()
		s.logger.Error("pipeline creation failed, draw skipped", slog.Any("error", err))
		if s.sink != nil {
			s.sink.Message(gpu.MessageSeverityError, "pipeline creation failed, draw skipped")
		}
		return err
	}

	s.tracker.Transition(s.vertexBuffer, gpu.ResourceStateVertexAndConstantBuffer)
	if indexHandle != arena.NilHandle {
		s.tracker.Transition(indexHandle, gpu.ResourceStateIndexBuffer)
	}
	for unit, handle := range s.textures {
		if handle != arena.NilHandle && !s.applied.textures[unit] {
			s.tracker.Transition(handle, gpu.ResourceStateShaderResource)
		}
	}
	s.tracker.Flush(list)

	if s.applied.pipeline != pipeline {
		list.SetPipeline(pipeline)
		s.applied.pipeline = pipeline
	}
	if !s.applied.viewport {
		list.SetViewport(s.viewport)
		s.applied.viewport = true
	}
	if !s.applied.vertex {
		list.SetVertexBuffer(s.arena.Resource(s.vertexBuffer).Native(), s.vertexStride)
		s.applied.vertex = true
	}
	if indexHandle != arena.NilHandle && s.applied.index != indexHandle {
		list.SetIndexBuffer(s.arena.Resource(indexHandle).Native(), indexFormat)
		s.applied.index = indexHandle
	}
	for unit, handle := range s.textures {
		if handle != arena.NilHandle && !s.applied.textures[unit] {
			list.SetTexture(unit, s.arena.Resource(handle).Native())
			s.applied.textures[unit] = true
		}
	}

	err = s.flushUniforms(list)
	if err != nil {
		return err
	}
	return nil
}

func (s *Shadow) resolvePipeline() (gpu.Pipeline, error) {
	key := s.state.hash()
	pipeline, ok := s.pipelines.Get(key)
	if ok {
		s.cacheHits.Inc()
		return pipeline, nil
	}

	pipeline, err := s.device.CreatePipeline(s.state.desc(s.vs, s.ps))
	if err != nil {
		return nil, errors.Wrap(err, "building pipeline for shadowed state")
	}
	s.pipelines.Put(key, pipeline)
	s.cacheMisses.Inc()
	s.logger.Debug("Shadow::resolvePipeline built pipeline",
		slog.Uint64("key", key),
		slog.Int("cached", s.pipelines.Count()))
	return pipeline, nil
}

func (s *Shadow) flushUniforms(list gpu.CommandList) error {
	buffer := s.uniformBuffers[s.uniformParity]

	if s.uniformsDirty && len(s.uniforms) > 0 {
		res := s.arena.Resource(buffer)
		if len(s.uniforms) > res.Size() {
			return errors.Newf("uniform block of %d bytes exceeds the %d byte uniform buffer",
				len(s.uniforms), res.Size())
		}
		err := res.Native().Write(s.uniforms, 0)
		if err != nil {
			return errors.Wrap(err, "uploading uniforms")
		}
		s.uniformsDirty = false
		s.applied.constant = false
	}

	if !s.applied.constant && len(s.uniforms) > 0 {
		list.SetConstantBuffer(0, s.arena.Resource(buffer).Native())
		s.applied.constant = true
	}
	return nil
}

// Stats is a snapshot of the façade's counters. Reading it never mutates
// façade state.
type Stats struct {
	PipelineCacheHits   uint64
	PipelineCacheMisses uint64
	Draws               uint64
	SkippedDraws        uint64
	Frames              uint64
}

func (s *Shadow) Stats() Stats {
	return Stats{
		PipelineCacheHits:   s.cacheHits.Load(),
		PipelineCacheMisses: s.cacheMisses.Load(),
		Draws:               s.draws.Load(),
		SkippedDraws:        s.skippedDraws.Load(),
		Frames:              s.frames.Load(),
	}
}

// Destroy releases the uniform buffers and every cached pipeline.
func (s *Shadow) Destroy() {
	for _, handle := range s.uniformBuffers {
		s.tracker.Forget(handle)
		s.arena.Release(handle)
	}
	s.pipelines.Iter(func(key uint64, pipeline gpu.Pipeline) bool {
		pipeline.Destroy()
		return false
	})
	s.pipelines = swiss.NewMap[uint64, gpu.Pipeline](0)
}
