package shadow

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/vkngwrapper/retrofit/gpu"
)

// MaxTextureUnits is the number of legacy texture stages the shadow exposes.
const MaxTextureUnits = 8

// pipelineState is the subset of shadowed state that a pipeline object bakes
// in. Any change here invalidates the cached pipeline lookup.
type pipelineState struct {
	depthTest  bool
	depthWrite bool
	depthBias  float32
	slopeBias  float32
	blend      gpu.BlendMode
	cull       gpu.CullMode
	colorMask  uint8
	polygon    gpu.PolygonMode
	topology   gpu.Topology

	vertexFormat gpu.VertexFormat
	vsID         uint32
	psID         uint32

	renderFormat gpu.Format
	depthFormat  gpu.Format
}

// nativeTopology maps a legacy topology to the one the pipeline is built
// with. Emulated topologies draw as indexed lists.
func nativeTopology(topology gpu.Topology) gpu.Topology {
	switch topology {
	case gpu.TopologyQuadList, gpu.TopologyTriangleFan, gpu.TopologyTriangleStrip:
		return gpu.TopologyTriangleList
	case gpu.TopologyLineStrip:
		return gpu.TopologyLineList
	}
	return topology
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// hash computes the pipeline cache key. Collisions across distinct states
// would bind the wrong pipeline, so every baked field feeds the hash.
func (s *pipelineState) hash() uint64 {
	h := fnv.New64a()
	var scratch [4]byte

	h.Write([]byte{
		boolByte(s.depthTest), boolByte(s.depthWrite),
		byte(s.blend), byte(s.cull), s.colorMask, byte(s.polygon),
		byte(nativeTopology(s.topology)),
		byte(s.renderFormat), byte(s.depthFormat),
	})
	binary.LittleEndian.PutUint32(scratch[:], uint32(s.vsID))
	h.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], uint32(s.psID))
	h.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(s.depthBias))
	h.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(s.slopeBias))
	h.Write(scratch[:])

	binary.LittleEndian.PutUint32(scratch[:], uint32(s.vertexFormat.Stride))
	h.Write(scratch[:])
	for _, attr := range s.vertexFormat.Attributes {
		h.Write([]byte(attr.Semantic))
		binary.LittleEndian.PutUint32(scratch[:], uint32(attr.Format))
		h.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], uint32(attr.Offset))
		h.Write(scratch[:])
	}

	return h.Sum64()
}

func (s *pipelineState) desc(vs, ps gpu.ShaderModule) gpu.PipelineStateDesc {
	return gpu.PipelineStateDesc{
		VertexShader: vs,
		PixelShader:  ps,
		Format:       s.vertexFormat,
		Topology:     nativeTopology(s.topology),
		DepthTest:    s.depthTest,
		DepthWrite:   s.depthWrite,
		DepthBias:    s.depthBias,
		SlopeBias:    s.slopeBias,
		Blend:        s.blend,
		Cull:         s.cull,
		ColorMask:    s.colorMask,
		Polygon:      s.polygon,
		RenderFormat: s.renderFormat,
		DepthFormat:  s.depthFormat,
	}
}

func vertexFormatsEqual(a, b gpu.VertexFormat) bool {
	if a.Stride != b.Stride || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for i := range a.Attributes {
		if a.Attributes[i] != b.Attributes[i] {
			return false
		}
	}
	return true
}
