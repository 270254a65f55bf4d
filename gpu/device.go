package gpu

// Device is the explicit-API device context that the allocator, descriptor
// heaps and command pool bind to. It is provided by the adapter/device layer,
// which also owns swap-chain creation and presentation timing. The engine
// packages in this module only ever talk to the device through this contract,
// so tests can substitute a recording fake and a process can host more than
// one device at a time.
type Device interface {
	// CreateBuffer creates a buffer resource in the requested heap class.
	CreateBuffer(desc BufferDesc) (Resource, error)
	// CreateTexture creates a 2D texture resource. Textures are always
	// device-local; data reaches them through upload-heap staging buffers.
	CreateTexture(desc TextureDesc) (Resource, error)
	// CreateDescriptorBacking creates the backing table for a descriptor heap
	// of the given kind with capacity slots.
	CreateDescriptorBacking(kind DescriptorKind, capacity int, shaderVisible bool) (DescriptorBacking, error)
	// CreateCommandAllocator creates the backing memory object for recorded
	// commands of one list type.
	CreateCommandAllocator(listType ListType) (CommandAllocator, error)
	// CreateCommandList creates a command list in the recording state, bound
	// to the provided allocator.
	CreateCommandList(listType ListType, allocator CommandAllocator) (CommandList, error)
	// CreateFence creates a timeline fence starting at initialValue.
	CreateFence(initialValue uint64) (Fence, error)
	// CreatePipeline builds a pipeline state object for one combination of
	// fixed-function state, shaders and vertex layout.
	CreatePipeline(desc PipelineStateDesc) (Pipeline, error)
	// Queue returns the submission queue for a list type. Implementations
	// may back several list types with the same underlying queue.
	Queue(listType ListType) Queue
	// WaitIdle blocks until the GPU has drained all submitted work. It exists
	// for shutdown and debug capture only and must not be used for per-frame
	// pacing.
	WaitIdle() error
	Destroy()
}

// Resource is a single GPU allocation (buffer or texture).
type Resource interface {
	// Size returns the byte size of the resource.
	Size() int
	// Write copies data into the resource at offset. It is only valid for
	// resources in CPU-visible heap classes.
	Write(data []byte, offset int) error
	Destroy()
}

// DescriptorBacking is the device-side table behind a descriptor heap. Slot
// addresses are computed as start + index*HandleIncrement.
type DescriptorBacking interface {
	CPUStart() uint64
	GPUStart() uint64
	HandleIncrement() int
	Destroy()
}

// CommandAllocator backs the memory for commands recorded into lists. An
// allocator may only be reset once every list recorded against it has
// finished executing.
type CommandAllocator interface {
	Reset() error
	Destroy()
}

// CommandList records commands for later submission through a Queue.
type CommandList interface {
	// Reset rebinds the list to an allocator and returns it to the recording
	// state.
	Reset(allocator CommandAllocator) error
	// Barriers records a batch of resource barriers as a single call.
	Barriers(barriers []Barrier)
	SetPipeline(p Pipeline)
	SetViewport(v Viewport)
	SetVertexBuffer(r Resource, strideBytes int)
	SetIndexBuffer(r Resource, format IndexFormat)
	SetConstantBuffer(slot int, r Resource)
	SetTexture(unit int, r Resource)
	Draw(vertexCount, firstVertex int)
	DrawIndexed(indexCount, firstIndex, baseVertex int)
	CopyBuffer(dst Resource, dstOffset int, src Resource, srcOffset int, size int)
	CopyBufferToTexture(dst Resource, src Resource, region TextureRegion)
	// Close ends recording. A closed list can be submitted or reset, but not
	// recorded into.
	Close() error
	Destroy()
}

// Queue accepts closed command lists for asynchronous execution.
type Queue interface {
	// Execute submits lists in order. A failed submission is permanent; the
	// caller must not resubmit partially-recorded work.
	Execute(lists []CommandList) error
	// Signal asks the queue to set the fence to value once all previously
	// submitted work completes.
	Signal(f Fence, value uint64) error
}

// Fence is a monotonically increasing GPU timeline value.
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until the fence reaches value.
	Wait(value uint64) error
	Destroy()
}

// Pipeline is an opaque compiled pipeline state object.
type Pipeline interface {
	Destroy()
}

// ShaderModule is an opaque compiled shader handle returned by a
// ShaderCompiler.
type ShaderModule interface {
	Destroy()
}

// ShaderCompiler is the external shader-compilation collaborator. Results are
// cached by the implementation; the cache key must include the full define
// set, not just source and entry point.
type ShaderCompiler interface {
	CompileShader(source, entryPoint, target string, defines map[string]string) (ShaderModule, error)
}

// MessageSeverity classifies messages sent to a MessageSink.
type MessageSeverity uint32

const (
	MessageSeverityInfo MessageSeverity = iota
	MessageSeverityWarning
	MessageSeverityError
)

// MessageSink receives validation warnings and errors from the engine. It is
// optional; a nil sink drops messages.
type MessageSink interface {
	Message(severity MessageSeverity, message string)
}

// BufferDesc describes a buffer resource.
type BufferDesc struct {
	Size      int
	HeapClass HeapClass
	// InitialState is the tracked state the buffer begins its life in.
	InitialState ResourceState
	DebugName    string
}

// TextureDesc describes a 2D texture resource.
type TextureDesc struct {
	Width        int
	Height       int
	MipLevels    int
	Format       Format
	InitialState ResourceState
	DebugName    string
}

// TextureRegion addresses a rectangle of one mip level for partial uploads.
type TextureRegion struct {
	X, Y          int
	Width, Height int
	MipLevel      int
	// RowPitch is the byte stride between rows in the source buffer. It must
	// be aligned to RowPitchAlignment.
	RowPitch int
}

// RowPitchAlignment is the required alignment of staging rows in
// buffer-to-texture copies.
const RowPitchAlignment = 256

// Viewport is the rasterizer viewport rectangle with depth range.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// VertexAttribute describes one element of a vertex layout.
type VertexAttribute struct {
	Semantic string
	Format   Format
	Offset   int
}

// VertexFormat is a full vertex layout.
type VertexFormat struct {
	Stride     int
	Attributes []VertexAttribute
}

// PipelineStateDesc is the complete fixed-function and shader state that one
// pipeline object bakes in.
type PipelineStateDesc struct {
	VertexShader   ShaderModule
	PixelShader    ShaderModule
	Format         VertexFormat
	Topology       Topology
	DepthTest      bool
	DepthWrite     bool
	DepthBias      float32
	SlopeBias      float32
	Blend          BlendMode
	Cull           CullMode
	ColorMask      uint8
	Polygon        PolygonMode
	RenderFormat   Format
	DepthFormat    Format
}
