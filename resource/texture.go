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

// TextureManager creates and fills 2D textures. Textures are always
// device-local; pixel data reaches them through row-aligned staging buffers.
type TextureManager struct {
	logger  *slog.Logger
	arena   *arena.Allocator
	tracker *track.Tracker

	uploads utils.Counter
}

func NewTextureManager(logger *slog.Logger, allocator *arena.Allocator, tracker *track.Tracker) *TextureManager {
	return &TextureManager{
		logger:  logger,
		arena:   allocator,
		tracker: tracker,
	}
}

// Create2D creates a texture and registers it in the copy-destination state,
// so the first upload needs no transition.
func (m *TextureManager) Create2D(width, height, mipLevels int, format gpu.Format, debugName string) (arena.Handle, error) {
	if mipLevels <= 0 {
		mipLevels = 1
	}

	handle, err := m.arena.CreateTexture(gpu.TextureDesc{
		Width:        width,
		Height:       height,
		MipLevels:    mipLevels,
		Format:       format,
		InitialState: gpu.ResourceStateCopyDest,
		DebugName:    debugName,
	})
	if err != nil {
		return arena.NilHandle, errors.Wrapf(err, "creating texture %q", debugName)
	}
	if handle == arena.NilHandle {
		return arena.NilHandle, nil
	}

	m.tracker.Register(handle, gpu.ResourceStateCopyDest)
	return handle, nil
}

// Upload copies tightly-packed pixel rows into a region of one mip level.
// Rows are repacked into a staging buffer at the device's row-pitch
// granularity, the copy is recorded into list, and the texture is left in the
// shader-resource state for sampling.
func (m *TextureManager) Upload(list gpu.CommandList, handle arena.Handle, region gpu.TextureRegion, pixels []byte, format gpu.Format) error {
	res := m.arena.Resource(handle)
	if res == nil {
		return errors.New("upload to an unknown texture handle")
	}
	if region.Width <= 0 || region.Height <= 0 {
		return errors.Newf("upload region %dx%d is empty", region.Width, region.Height)
	}

	rowBytes := region.Width * format.TexelSize()
	if len(pixels) < rowBytes*region.Height {
		return errors.Newf("upload of %d bytes is short of the %d bytes the region needs",
			len(pixels), rowBytes*region.Height)
	}

	pitch := gfxutils.AlignUp(rowBytes, gpu.RowPitchAlignment)
	staging, err := m.arena.CreateStagingBuffer(pitch*region.Height, res.DebugName()+"/staging")
	if err != nil {
		return errors.Wrap(err, "creating staging buffer for texture upload")
	}

	// Repack tight rows at the aligned pitch.
	aligned := make([]byte, pitch*region.Height)
	for row := 0; row < region.Height; row++ {
		copy(aligned[row*pitch:], pixels[row*rowBytes:(row+1)*rowBytes])
	}
	err = m.arena.Resource(staging).Native().Write(aligned, 0)
	if err != nil {
		return errors.Wrap(err, "writing texture staging buffer")
	}

	region.RowPitch = pitch

	m.tracker.Transition(handle, gpu.ResourceStateCopyDest)
	m.tracker.Flush(list)
	list.CopyBufferToTexture(res.Native(), m.arena.Resource(staging).Native(), region)
	m.tracker.Transition(handle, gpu.ResourceStateShaderResource)
	m.tracker.Flush(list)

	m.uploads.Inc()
	m.logger.Debug("TextureManager::Upload",
		slog.String("name", res.DebugName()),
		slog.Int("width", region.Width),
		slog.Int("height", region.Height),
		slog.Int("mip", region.MipLevel),
		slog.Int("rowPitch", pitch))
	return nil
}

// Retire drops the texture from state tracking and schedules its destruction
// behind the frame ring.
func (m *TextureManager) Retire(handle arena.Handle) {
	m.tracker.Forget(handle)
	m.arena.Release(handle)
}

// UploadCount returns the number of completed texture uploads.
func (m *TextureManager) UploadCount() uint64 {
	return m.uploads.Load()
}
