package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gfxutils"
	"github.com/vkngwrapper/retrofit/gpu"
)

func bufferUsage(desc gpu.BufferDesc) core1_0.BufferUsageFlags {
	// Every buffer can participate in staging copies.
	usage := core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst

	switch desc.InitialState {
	case gpu.ResourceStateIndexBuffer:
		usage |= core1_0.BufferUsageIndexBuffer
	case gpu.ResourceStateUnorderedAccess:
		usage |= core1_0.BufferUsageStorageBuffer
	case gpu.ResourceStateShaderResource:
		usage |= core1_0.BufferUsageStorageBuffer
	default:
		usage |= core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageUniformBuffer
	}
	return usage
}

func imageUsage(desc gpu.TextureDesc) core1_0.ImageUsageFlags {
	usage := core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst | core1_0.ImageUsageTransferSrc

	switch desc.Format {
	case gpu.FormatDepth32, gpu.FormatDepth24Stencil8:
		usage |= core1_0.ImageUsageDepthStencilAttachment
	default:
		if desc.InitialState == gpu.ResourceStateRenderTarget {
			usage |= core1_0.ImageUsageColorAttachment
		}
	}
	return usage
}

func vulkanFormat(format gpu.Format) (core1_0.Format, error) {
	switch format {
	case gpu.FormatRGBA8:
		return core1_0.FormatR8G8B8A8UnsignedNormalized, nil
	case gpu.FormatBGRA8:
		return core1_0.FormatB8G8R8A8UnsignedNormalized, nil
	case gpu.FormatRGBA32Float:
		return core1_0.FormatR32G32B32A32SignedFloat, nil
	case gpu.FormatRG32Float:
		return core1_0.FormatR32G32SignedFloat, nil
	case gpu.FormatR32Float:
		return core1_0.FormatR32SignedFloat, nil
	case gpu.FormatDepth32:
		return core1_0.FormatD32SignedFloat, nil
	case gpu.FormatDepth24Stencil8:
		return core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, nil
	}
	return 0, errors.Newf("format %s has no Vulkan equivalent", format)
}

// Buffer is a Vulkan buffer with dedicated memory, implementing
// gpu.Resource.
type Buffer struct {
	ctx    *Context
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int

	hostVisible bool
	nonCoherent bool
}

var _ gpu.Resource = &Buffer{}

// CreateBuffer creates a buffer and binds it to freshly allocated memory of
// the heap class's preferred type.
func (c *Context) CreateBuffer(desc gpu.BufferDesc) (gpu.Resource, error) {
	buffer, _, err := c.device.CreateBuffer(c.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        desc.Size,
		Usage:       bufferUsage(desc),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating buffer %q", desc.DebugName)
	}

	memReqs := buffer.MemoryRequirements()
	required, preferred := memoryPreferences(desc.HeapClass)
	typeIndex, err := findMemoryTypeIndex(c.memoryProperties, memReqs.MemoryTypeBits, required, preferred)
	if err != nil {
		buffer.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "selecting memory for buffer %q", desc.DebugName)
	}

	memory, _, err := c.device.AllocateMemory(c.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		buffer.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "allocating %d bytes for buffer %q", memReqs.Size, desc.DebugName)
	}

	_, err = buffer.BindBufferMemory(memory, 0)
	if err != nil {
		memory.Free(c.allocationCallbacks)
		buffer.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "binding memory for buffer %q", desc.DebugName)
	}

	visible, nonCoherent := isHostVisible(c.memoryProperties, typeIndex)
	c.logger.Debug("Context::CreateBuffer",
		slog.String("name", desc.DebugName),
		slog.Int("size", desc.Size),
		slog.String("heap", desc.HeapClass.String()),
		slog.Int("memoryType", typeIndex))

	return &Buffer{
		ctx:         c,
		buffer:      buffer,
		memory:      memory,
		size:        desc.Size,
		hostVisible: visible,
		nonCoherent: nonCoherent,
	}, nil
}

func (b *Buffer) Size() int { return b.size }

// VulkanBuffer exposes the underlying handle for command recording.
func (b *Buffer) VulkanBuffer() core1_0.Buffer { return b.buffer }

// Write maps the buffer memory, copies data at offset, flushes when the
// memory type is not coherent, and unmaps.
func (b *Buffer) Write(data []byte, offset int) error {
	if !b.hostVisible {
		return errors.New("write to a buffer outside a CPU-visible heap")
	}
	if offset < 0 || offset+len(data) > b.size {
		return errors.Newf("write of %d bytes at offset %d overruns buffer of %d bytes", len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}

	ptr, _, err := b.memory.Map(offset, len(data), core1_0.MemoryMapFlags(0))
	if err != nil {
		return errors.Wrap(err, "mapping buffer memory")
	}

	mapped := unsafe.Slice((*byte)(ptr), len(data))
	copy(mapped, data)

	if b.nonCoherent {
		flushOffset := gfxutils.AlignDown(offset, uint(b.ctx.nonCoherentAtomSize))
		_, err = b.ctx.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{
			{
				Memory: b.memory,
				Offset: flushOffset,
				Size:   common.WholeSize,
			},
		})
		if err != nil {
			b.memory.Unmap()
			return errors.Wrap(err, "flushing mapped buffer range")
		}
	}

	b.memory.Unmap()
	return nil
}

func (b *Buffer) Destroy() {
	b.buffer.Destroy(b.ctx.allocationCallbacks)
	b.memory.Free(b.ctx.allocationCallbacks)
}

// Image is a Vulkan 2D image with dedicated memory, implementing
// gpu.Resource. Images always use optimal tiling; pixel data arrives through
// buffer-to-image copies, never mapped writes.
type Image struct {
	ctx    *Context
	image  core1_0.Image
	memory core1_0.DeviceMemory
	size   int
}

var _ gpu.Resource = &Image{}

// CreateTexture creates a device-local 2D image.
func (c *Context) CreateTexture(desc gpu.TextureDesc) (gpu.Resource, error) {
	format, err := vulkanFormat(desc.Format)
	if err != nil {
		return nil, err
	}
	mipLevels := desc.MipLevels
	if mipLevels < 1 {
		mipLevels = 1
	}

	image, _, err := c.device.CreateImage(c.allocationCallbacks, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    format,
		Extent: core1_0.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         imageUsage(desc),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating image %q", desc.DebugName)
	}

	memReqs := image.MemoryRequirements()
	typeIndex, err := findMemoryTypeIndex(c.memoryProperties, memReqs.MemoryTypeBits, 0, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		image.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "selecting memory for image %q", desc.DebugName)
	}

	memory, _, err := c.device.AllocateMemory(c.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		image.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "allocating %d bytes for image %q", memReqs.Size, desc.DebugName)
	}

	_, err = image.BindImageMemory(memory, 0)
	if err != nil {
		memory.Free(c.allocationCallbacks)
		image.Destroy(c.allocationCallbacks)
		return nil, errors.Wrapf(err, "binding memory for image %q", desc.DebugName)
	}

	c.logger.Debug("Context::CreateTexture",
		slog.String("name", desc.DebugName),
		slog.Int("width", desc.Width),
		slog.Int("height", desc.Height),
		slog.Int("memoryType", typeIndex))

	return &Image{
		ctx:    c,
		image:  image,
		memory: memory,
		size:   memReqs.Size,
	}, nil
}

func (i *Image) Size() int { return i.size }

// VulkanImage exposes the underlying handle for command recording.
func (i *Image) VulkanImage() core1_0.Image { return i.image }

func (i *Image) Write(data []byte, offset int) error {
	return errors.New("images use optimal tiling, fill them through staging buffer copies")
}

func (i *Image) Destroy() {
	i.image.Destroy(i.ctx.allocationCallbacks)
	i.memory.Free(i.ctx.allocationCallbacks)
}
