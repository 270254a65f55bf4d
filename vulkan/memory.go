package vulkan

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/retrofit/gpu"
)

// memoryPreferences maps an engine heap class to Vulkan memory property
// requirements. Upload memory must be coherently host-writable so staging
// writes need no explicit flush on common hardware; readback prefers cached
// host memory for CPU read speed.
func memoryPreferences(class gpu.HeapClass) (required, preferred core1_0.MemoryPropertyFlags) {
	switch class {
	case gpu.HeapClassUpload:
		required = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	case gpu.HeapClassReadback:
		required = core1_0.MemoryPropertyHostVisible
		preferred = core1_0.MemoryPropertyHostCached
	default:
		preferred = core1_0.MemoryPropertyDeviceLocal
	}
	return required, preferred
}

// findMemoryTypeIndex picks the memory type with every required flag and the
// most preferred flags, among types the resource accepts.
func findMemoryTypeIndex(
	properties *core1_0.PhysicalDeviceMemoryProperties,
	memoryTypeBits uint32,
	required, preferred core1_0.MemoryPropertyFlags,
) (int, error) {
	bestIndex := -1
	bestScore := -1

	for typeIndex, memoryType := range properties.MemoryTypes {
		if memoryTypeBits&(1<<typeIndex) == 0 {
			continue
		}
		flags := memoryType.PropertyFlags
		if flags&required != required {
			continue
		}

		score := bits.OnesCount32(uint32(flags & preferred))
		if score > bestScore {
			bestIndex = typeIndex
			bestScore = score
		}
	}

	if bestIndex < 0 {
		return -1, errors.Newf("no memory type matches required flags %x within type bits %x", required, memoryTypeBits)
	}
	return bestIndex, nil
}

// isHostVisible reports whether a memory type can be mapped, and whether
// mapped writes need an explicit flush.
func isHostVisible(properties *core1_0.PhysicalDeviceMemoryProperties, typeIndex int) (visible, nonCoherent bool) {
	flags := properties.MemoryTypes[typeIndex].PropertyFlags
	visible = flags&core1_0.MemoryPropertyHostVisible != 0
	nonCoherent = visible && flags&core1_0.MemoryPropertyHostCoherent == 0
	return visible, nonCoherent
}
