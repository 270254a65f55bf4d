package autoindex

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/arena"
	"github.com/vkngwrapper/retrofit/gfxutils"
	"github.com/vkngwrapper/retrofit/gpu"
	"github.com/vkngwrapper/retrofit/internal/utils"
	"github.com/vkngwrapper/retrofit/track"
)

const (
	// initialVertexCapacity is the vertex capacity of a topology's first
	// buffer. Small draws are the common case; the buffer doubles from here.
	initialVertexCapacity = 1024
	// MaxVertexCapacity bounds buffer growth. A single legacy draw beyond
	// this is rejected rather than ballooning the index pool.
	MaxVertexCapacity = 1 << 22
)

type entry struct {
	handle         arena.Handle
	format         gpu.IndexFormat
	vertexCapacity int
}

// Binding is what a draw needs to source indices from a generated buffer.
type Binding struct {
	Handle arena.Handle
	Format gpu.IndexFormat
	// IndexCount is the number of indices covering the draw's vertex count,
	// not the whole buffer.
	IndexCount int
}

// Generator owns one grow-only index buffer per emulated topology. Buffers
// live in the upload heap so regeneration is a plain CPU write; a buffer is
// regenerated only when a draw needs more vertices than the current capacity
// covers, so steady-state frames allocate nothing.
type Generator struct {
	logger  *slog.Logger
	arena   *arena.Allocator
	tracker *track.Tracker

	entries map[gpu.Topology]*entry

	hits          utils.Counter
	regenerations utils.Counter
}

// NewGenerator creates a Generator over the allocator. The tracker is
// optional; when present, generated buffers are registered in the
// index-buffer state.
func NewGenerator(logger *slog.Logger, allocator *arena.Allocator, tracker *track.Tracker) *Generator {
	return &Generator{
		logger:  logger,
		arena:   allocator,
		tracker: tracker,
		entries: make(map[gpu.Topology]*entry),
	}
}

// EnsureCapacity returns an index binding covering a draw of vertexCount
// vertices under an emulated topology, regenerating the topology's buffer if
// it is too small. A request already covered by the current buffer performs
// no allocation and no write.
func (g *Generator) EnsureCapacity(topology gpu.Topology, vertexCount int) (Binding, error) {
	if !Emulated(topology) {
		return Binding{}, errors.Newf("topology %s is not emulated", topology)
	}
	if vertexCount <= 0 {
		return Binding{}, errors.Newf("vertex count %d must be positive", vertexCount)
	}
	if vertexCount > MaxVertexCapacity {
		return Binding{}, errors.Newf("vertex count %d exceeds the index pool limit of %d", vertexCount, MaxVertexCapacity)
	}

	existing := g.entries[topology]
	if existing != nil && vertexCount <= existing.vertexCapacity {
		g.hits.Inc()
		return Binding{
			Handle:     existing.handle,
			Format:     existing.format,
			IndexCount: IndexCount(topology, vertexCount),
		}, nil
	}

	capacity := gfxutils.NextPow2(vertexCount)
	if capacity < initialVertexCapacity {
		capacity = initialVertexCapacity
	}
	// A 16-bit buffer never holds indices past the format's range; growth
	// past that boundary switches the whole buffer to 32-bit.
	format := FormatFor(vertexCount)
	if format == gpu.IndexFormatUint16 && capacity > Max16BitVertices {
		capacity = Max16BitVertices
	}
	if capacity > MaxVertexCapacity {
		capacity = MaxVertexCapacity
	}

	indices, err := Pattern(topology, capacity)
	if err != nil {
		return Binding{}, err
	}
	data, err := Encode(indices, format)
	if err != nil {
		return Binding{}, err
	}

	handle, err := g.arena.CreateBuffer(gpu.BufferDesc{
		Size:         len(data),
		HeapClass:    gpu.HeapClassUpload,
		InitialState: gpu.ResourceStateIndexBuffer,
		DebugName:    "autoindex/" + topology.String(),
	})
	if err != nil {
		return Binding{}, errors.Wrapf(err, "growing %s index buffer to %d vertices", topology, capacity)
	}

	err = g.arena.Resource(handle).Native().Write(data, 0)
	if err != nil {
		g.arena.Release(handle)
		return Binding{}, errors.Wrapf(err, "filling %s index buffer", topology)
	}

	if g.tracker != nil {
		g.tracker.Register(handle, gpu.ResourceStateIndexBuffer)
	}

	if existing != nil {
		if g.tracker != nil {
			g.tracker.Forget(existing.handle)
		}
		g.arena.Release(existing.handle)
	}

	g.entries[topology] = &entry{
		handle:         handle,
		format:         format,
		vertexCapacity: capacity,
	}
	g.regenerations.Inc()
	g.logger.Debug("Generator::EnsureCapacity regenerated",
		slog.String("topology", topology.String()),
		slog.Int("vertexCapacity", capacity),
		slog.String("format", format.String()),
	)

	return Binding{
		Handle:     handle,
		Format:     format,
		IndexCount: IndexCount(topology, vertexCount),
	}, nil
}

// Stats is a snapshot of the generator's counters.
type Stats struct {
	// Hits counts requests served by an existing buffer with no allocation.
	Hits uint64
	// Regenerations counts buffer builds, including each topology's first.
	Regenerations uint64
}

func (g *Generator) Stats() Stats {
	return Stats{
		Hits:          g.hits.Load(),
		Regenerations: g.regenerations.Load(),
	}
}

// Destroy releases every generated buffer back to the allocator.
func (g *Generator) Destroy() {
	for topology, e := range g.entries {
		if g.tracker != nil {
			g.tracker.Forget(e.handle)
		}
		g.arena.Release(e.handle)
		delete(g.entries, topology)
	}
}
