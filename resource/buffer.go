// Package resource provides the lifecycle managers legacy calls go through
// to create, fill and retire GPU resources. Managers pair the allocator with
// the state tracker so every resource is registered at creation and forgotten
// at retirement, and uploads route through staging buffers and copy commands
// instead of direct writes.
package resource

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/gfxutils"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
	"github.com/vkngwrapper/retrofit/track"
)

// BufferKind selects the usage a buffer is created for.
type BufferKind uint32

const (
	BufferKindVertex BufferKind = iota
	BufferKindIndex
	BufferKindConstant
	BufferKindStructured
)

var bufferKindMapping = make(map[BufferKind]string)

func (k BufferKind) String() string {
	return bufferKindMapping[k]
}

func init() {
	bufferKindMapping[BufferKindVertex] = "BufferKindVertex"
	bufferKindMapping[BufferKindIndex] = "BufferKindIndex"
	bufferKindMapping[BufferKindConstant] = "BufferKindConstant"
	bufferKindMapping[BufferKindStructured] = "BufferKindStructured"
}

// constantAlignment is the required size alignment of constant buffers.
const constantAlignment = 256

func (k BufferKind) initialState() gpu.ResourceState {
	switch k {
	case BufferKindIndex:
		return gpu.ResourceStateIndexBuffer
	case BufferKindStructured:
		return gpu.ResourceStateShaderResource
	default:
		return gpu.ResourceStateVertexAndConstantBuffer
	}
}

// BufferManager creates and fills device-local buffers.
type BufferManager struct {
	logger  *slog.Logger
	arena   *arena.Allocator
	tracker *track.Tracker

	uploads utils.Counter
}

func NewBufferManager(logger *slog.Logger, allocator *arena.Allocator, tracker *track.Tracker) *BufferManager {
	return &BufferManager{
		logger:  logger,
		arena:   allocator,
		tracker: tracker,
	}
}

// Create creates a device-local buffer of the given kind and registers it
// with the state tracker at its initial state. Constant buffer sizes are
// padded to the hardware's 256-byte granularity.
func (m *BufferManager) Create(kind BufferKind, size int, debugName string) (arena.Handle, error) {
	if kind == BufferKindConstant {
		size = gfxutils.AlignUp(size, constantAlignment)
	}

	handle, err := m.arena.CreateBuffer(gpu.BufferDesc{
		Size:         size,
		HeapClass:    gpu.HeapClassDeviceLocal,
		InitialState: kind.initialState(),
		DebugName:    debugName,
	})
	if err != nil {
		return arena.NilHandle, errors.Wrapf(err, "creating %s", kind)
	}
	if handle == arena.NilHandle {
		return arena.NilHandle, nil
	}

	m.tracker.Register(handle, kind.initialState())
	return handle, nil
}

// Upload copies data into a device-local buffer at offset through a
// transient staging buffer. The copy is recorded into list; the buffer is
// transitioned to the copy-destination state for the copy and restored to its
// prior state afterwards, all flushed into the same list.
func (m *BufferManager) Upload(list gpu.CommandList, handle arena.Handle, data []byte, offset int) error {
	res := m.arena.Resource(handle)
	if res == nil {
		return errors.New("upload to an unknown buffer handle")
	}
	if offset < 0 || offset+len(data) > res.Size() {
		return errors.Newf("upload of %d bytes at offset %d overruns buffer %q of %d bytes",
			len(data), offset, res.DebugName(), res.Size())
	}
	if len(data) == 0 {
		return nil
	}

	staging, err := m.arena.CreateStagingBuffer(len(data), res.DebugName()+"/staging")
	if err != nil {
		return errors.Wrap(err, "creating staging buffer for upload")
	}
	err = m.arena.Resource(staging).Native().Write(data, 0)
	if err != nil {
		return errors.Wrap(err, "writing staging buffer")
	}

	previous, known := m.tracker.TrackedState(handle)
	if !known {
		previous = res.InitialState()
	}

	m.tracker.Transition(handle, gpu.ResourceStateCopyDest)
	m.tracker.Flush(list)
	list.CopyBuffer(res.Native(), offset, m.arena.Resource(staging).Native(), 0, len(data))
	m.tracker.Transition(handle, previous)
	m.tracker.Flush(list)

	m.uploads.Inc()
	m.logger.Debug("BufferManager::Upload",
		slog.String("name", res.DebugName()),
		slog.Int("bytes", len(data)),
		slog.Int("offset", offset))
	return nil
}

// Retire drops the buffer from state tracking and schedules its destruction
// behind the frame ring.
func (m *BufferManager) Retire(handle arena.Handle) {
	m.tracker.Forget(handle)
	m.arena.Release(handle)
}

// UploadCount returns the number of completed buffer uploads.
func (m *BufferManager) UploadCount() uint64 {
	return m.uploads.Load()
}
