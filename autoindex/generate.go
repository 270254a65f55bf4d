// Package autoindex synthesizes index buffers for primitive topologies the
// explicit API no longer rasterizes directly. Each emulated topology has a
// deterministic index pattern over N vertices, so one grow-only buffer per
// topology serves every draw.
package autoindex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/retrofit/gpu"
)

// Max16BitVertices is the largest vertex count addressable with 16-bit
// indices.
const Max16BitVertices = 65536

// Emulated reports whether draws with this topology must be rewritten into
// indexed triangle-list or line-list draws.
func Emulated(topology gpu.Topology) bool {
	switch topology {
	case gpu.TopologyQuadList, gpu.TopologyTriangleFan, gpu.TopologyTriangleStrip,
		gpu.TopologyLineList, gpu.TopologyLineStrip:
		return true
	}
	return false
}

// IndexCount returns the number of indices a draw of vertexCount vertices
// expands to under an emulated topology. Returns 0 for vertex counts too
// small to form a primitive.
func IndexCount(topology gpu.Topology, vertexCount int) int {
	switch topology {
	case gpu.TopologyQuadList:
		return (vertexCount / 4) * 6
	case gpu.TopologyTriangleFan, gpu.TopologyTriangleStrip:
		if vertexCount < 3 {
			return 0
		}
		return (vertexCount - 2) * 3
	case gpu.TopologyLineList:
		return vertexCount
	case gpu.TopologyLineStrip:
		if vertexCount < 2 {
			return 0
		}
		return (vertexCount - 1) * 2
	}
	return 0
}

// FormatFor returns the narrowest index format that can address vertexCount
// vertices.
func FormatFor(vertexCount int) gpu.IndexFormat {
	if vertexCount <= Max16BitVertices {
		return gpu.IndexFormatUint16
	}
	return gpu.IndexFormatUint32
}

// Pattern generates the index pattern for vertexCount vertices of an
// emulated topology, as 32-bit values regardless of the eventual buffer
// format.
func Pattern(topology gpu.Topology, vertexCount int) ([]uint32, error) {
	count := IndexCount(topology, vertexCount)
	indices := make([]uint32, 0, count)

	switch topology {
	case gpu.TopologyQuadList:
		for quad := 0; quad+3 < vertexCount; quad += 4 {
			base := uint32(quad)
			indices = append(indices,
				base, base+1, base+2,
				base+2, base+3, base,
			)
		}
	case gpu.TopologyTriangleFan:
		for i := 1; i+1 < vertexCount; i++ {
			indices = append(indices, 0, uint32(i), uint32(i+1))
		}
	case gpu.TopologyTriangleStrip:
		for i := 0; i+2 < vertexCount; i++ {
			// Alternate winding so every triangle keeps the strip's
			// orientation.
			if i%2 == 0 {
				indices = append(indices, uint32(i), uint32(i+1), uint32(i+2))
			} else {
				indices = append(indices, uint32(i+1), uint32(i), uint32(i+2))
			}
		}
	case gpu.TopologyLineList:
		for i := 0; i < vertexCount; i++ {
			indices = append(indices, uint32(i))
		}
	case gpu.TopologyLineStrip:
		for i := 0; i+1 < vertexCount; i++ {
			indices = append(indices, uint32(i), uint32(i+1))
		}
	default:
		return nil, errors.Newf("topology %s is not emulated", topology)
	}

	return indices, nil
}

// Encode packs an index pattern into little-endian bytes of the given
// format. 16-bit encoding rejects indices beyond the format's range.
func Encode(indices []uint32, format gpu.IndexFormat) ([]byte, error) {
	data := make([]byte, len(indices)*format.Stride())

	switch format {
	case gpu.IndexFormatUint16:
		for i, index := range indices {
			if index >= Max16BitVertices {
				return nil, errors.Newf("index %d does not fit in 16 bits", index)
			}
			binary.LittleEndian.PutUint16(data[i*2:], uint16(index))
		}
	case gpu.IndexFormatUint32:
		for i, index := range indices {
			binary.LittleEndian.PutUint32(data[i*4:], index)
		}
	default:
		return nil, errors.Newf("unknown index format %d", format)
	}

	return data, nil
}
