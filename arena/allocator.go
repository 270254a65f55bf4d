package arena

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
)

const heapClassCount = 3

// Allocator owns every GPU resource in the system and defers physical
// destruction until the frame ring guarantees no in-flight command list still
// references the resource.
//
// Resources released during ring slot i are destroyed only when slot i is
// entered again after a full ring rotation, i.e. after RingSize calls to
// BeginFrame. Temporary staging resources are instead reclaimed on the very
// next BeginFrame.
type Allocator struct {
	logger *slog.Logger
	device gpu.Device
	sink   gpu.MessageSink
	mutex  utils.OptionalRWMutex

	ringSize  int
	ringIndex int
	// frameIndex is read from reporting threads, so it is accessed atomically.
	frameIndex uint64

	resources  *swiss.Map[Handle, *Resource]
	nextHandle uint64

	// pending[i] holds handles released while slot i was current. tempReclaim
	// holds staging handles reclaimed wholesale on the next BeginFrame.
	pending     [][]Handle
	tempReclaim []Handle

	budgets [heapClassCount]int
	usage   [heapClassCount]int

	createdCount utils.Counter
	freedCount   utils.Counter
	deniedCount  utils.Counter
}

func (a *Allocator) mint() Handle {
	return Handle(atomic.AddUint64(&a.nextHandle, 1))
}

func (a *Allocator) warn(message string) {
	a.logger.Warn(message)
	if a.sink != nil {
		a.sink.Message(gpu.MessageSeverityWarning, message)
	}
}

// CreateBuffer creates a buffer resource and returns its handle. On failure
// the handle is NilHandle: budget exhaustion returns BudgetExceededError,
// invalid parameters are logged and return no error, and device failures are
// wrapped. All three are recoverable; callers skip the dependent work.
func (a *Allocator) CreateBuffer(desc gpu.BufferDesc) (Handle, error) {
	if desc.Size <= 0 {
		a.warn("CreateBuffer called with a zero-sized buffer")
		return NilHandle, nil
	}
	return a.createBuffer(desc, false)
}

// CreateStagingBuffer creates a temporary upload-heap buffer for one-shot
// CPU->GPU transfer. The allocator reclaims it automatically on the next
// BeginFrame; callers must not Release it and must not reference it across a
// frame boundary.
func (a *Allocator) CreateStagingBuffer(size int, debugName string) (Handle, error) {
	if size <= 0 {
		a.warn("CreateStagingBuffer called with a zero-sized buffer")
		return NilHandle, nil
	}
	return a.createBuffer(gpu.BufferDesc{
		Size:         size,
		HeapClass:    gpu.HeapClassUpload,
		InitialState: gpu.ResourceStateCopySource,
		DebugName:    debugName,
	}, true)
}

func (a *Allocator) createBuffer(desc gpu.BufferDesc, temporary bool) (Handle, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.chargeBudget(desc.HeapClass, desc.Size) {
		return NilHandle, errors.Wrapf(BudgetExceededError, "buffer %q of %d bytes in %s", desc.DebugName, desc.Size, desc.HeapClass)
	}

	native, err := a.device.CreateBuffer(desc)
	if err != nil {
		a.refundBudget(desc.HeapClass, desc.Size)
		a.logger.Error("buffer creation failed on device",
			slog.String("name", desc.DebugName),
			slog.Int("size", desc.Size),
			slog.Any("error", err))
		return NilHandle, errors.Wrapf(err, "creating buffer %q", desc.DebugName)
	}

	res := &Resource{
		handle:       a.mint(),
		native:       native,
		size:         desc.Size,
		heapClass:    desc.HeapClass,
		initialState: desc.InitialState,
		createdFrame: atomic.LoadUint64(&a.frameIndex),
		temporary:    temporary,
		debugName:    desc.DebugName,
	}
	a.resources.Put(res.handle, res)
	a.createdCount.Inc()

	if temporary {
		a.tempReclaim = append(a.tempReclaim, res.handle)
	}

	a.logger.Debug("Allocator::CreateBuffer",
		slog.String("name", desc.DebugName),
		slog.Int("size", desc.Size),
		slog.String("heap", desc.HeapClass.String()))
	return res.handle, nil
}

// CreateTexture creates a 2D texture resource. Failure semantics match
// CreateBuffer.
func (a *Allocator) CreateTexture(desc gpu.TextureDesc) (Handle, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		a.warn("CreateTexture called with empty dimensions")
		return NilHandle, nil
	}
	if desc.Format == gpu.FormatUnknown {
		a.warn("CreateTexture called with FormatUnknown")
		return NilHandle, nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	size := desc.Width * desc.Height * desc.Format.TexelSize()
	if !a.chargeBudget(gpu.HeapClassDeviceLocal, size) {
		return NilHandle, errors.Wrapf(BudgetExceededError, "texture %q of %d bytes", desc.DebugName, size)
	}

	native, err := a.device.CreateTexture(desc)
	if err != nil {
		a.refundBudget(gpu.HeapClassDeviceLocal, size)
		a.logger.Error("texture creation failed on device",
			slog.String("name", desc.DebugName),
			slog.Int("width", desc.Width),
			slog.Int("height", desc.Height),
			slog.Any("error", err))
		return NilHandle, errors.Wrapf(err, "creating texture %q", desc.DebugName)
	}

	res := &Resource{
		handle:       a.mint(),
		native:       native,
		size:         size,
		heapClass:    gpu.HeapClassDeviceLocal,
		initialState: desc.InitialState,
		createdFrame: atomic.LoadUint64(&a.frameIndex),
		debugName:    desc.DebugName,
	}
	a.resources.Put(res.handle, res)
	a.createdCount.Inc()
	return res.handle, nil
}

func (a *Allocator) chargeBudget(class gpu.HeapClass, size int) bool {
	budget := a.budgets[class]
	if budget >= 0 && a.usage[class]+size > budget {
		a.deniedCount.Inc()
		a.warn("allocation denied: heap budget exceeded")
		return false
	}
	a.usage[class] += size
	return true
}

func (a *Allocator) refundBudget(class gpu.HeapClass, size int) {
	a.usage[class] -= size
}

// Resource looks up the record for a handle, or nil if the handle is not
// live. The returned record must not be retained across a Release.
func (a *Allocator) Resource(handle Handle) *Resource {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	res, ok := a.resources.Get(handle)
	if !ok {
		return nil
	}
	return res
}

// Release requests destruction of a resource. The memory is not freed now;
// the handle is queued on the current ring slot and destroyed when that slot
// comes around again, at which point the GPU cannot still be consuming it.
func (a *Allocator) Release(handle Handle) {
	if handle == NilHandle {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	res, ok := a.resources.Get(handle)
	if !ok {
		a.warn("Release called with an unknown resource handle")
		return
	}
	if res.temporary {
		// Staging resources are on the tempReclaim list already.
		return
	}
	if res.pendingFree {
		a.warn("Release called twice for the same resource")
		return
	}

	res.pendingFree = true
	a.pending[a.ringIndex] = append(a.pending[a.ringIndex], handle)
}

// BeginFrame advances the frame ring. The slot being entered has not been
// touched for a full rotation, so everything queued on it is destroyed before
// the slot is reused (pop before overwrite). Staging resources from the frame
// just ended are reclaimed unconditionally.
func (a *Allocator) BeginFrame() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	atomic.AddUint64(&a.frameIndex, 1)
	a.ringIndex = (a.ringIndex + 1) % a.ringSize

	for _, handle := range a.tempReclaim {
		a.destroyLocked(handle)
	}
	a.tempReclaim = a.tempReclaim[:0]

	slot := a.pending[a.ringIndex]
	for _, handle := range slot {
		a.destroyLocked(handle)
	}
	a.pending[a.ringIndex] = slot[:0]
}

func (a *Allocator) destroyLocked(handle Handle) {
	res, ok := a.resources.Get(handle)
	if !ok {
		return
	}
	res.native.Destroy()
	a.usage[res.heapClass] -= res.size
	a.resources.Delete(handle)
	a.freedCount.Inc()
}

// FrameIndex returns the current frame number. Safe to call from a reporting
// thread.
func (a *Allocator) FrameIndex() uint64 {
	return atomic.LoadUint64(&a.frameIndex)
}

// RingSize returns the number of frames kept in flight.
func (a *Allocator) RingSize() int {
	return a.ringSize
}

// RingIndex returns the current ring slot.
func (a *Allocator) RingIndex() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.ringIndex
}

// ActiveResourceCount returns the number of live resources, including those
// pending deferred destruction.
func (a *Allocator) ActiveResourceCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.resources.Count()
}

// PendingFreeCount returns the number of handles waiting on the frame ring.
func (a *Allocator) PendingFreeCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	count := 0
	for _, slot := range a.pending {
		count += len(slot)
	}
	return count
}

// HeapUsage returns the live byte count for one heap class.
func (a *Allocator) HeapUsage(class gpu.HeapClass) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.usage[class]
}

// WaitIdle drains the device. For shutdown and debug capture only; frame
// pacing never blocks here.
func (a *Allocator) WaitIdle() error {
	return a.device.WaitIdle()
}

// Destroy tears down every remaining resource. Resources that were never
// released are reported as leaks before being destroyed.
func (a *Allocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.resources.Iter(func(handle Handle, res *Resource) bool {
		if !res.pendingFree && !res.temporary {
			a.logger.Error("[UNRELEASED RESOURCE] resource was never released",
				slog.String("name", res.debugName),
				slog.Int("size", res.size),
				slog.Uint64("createdFrame", res.createdFrame))
			if a.sink != nil {
				a.sink.Message(gpu.MessageSeverityError, "unreleased resource: "+res.debugName)
			}
		}
		res.native.Destroy()
		return false
	})

	a.resources = swiss.NewMap[Handle, *Resource](16)
	for i := range a.pending {
		a.pending[i] = nil
	}
	a.tempReclaim = nil
	for i := range a.usage {
		a.usage[i] = 0
	}
}
