package arena

import (
	"github.com/vkngwrapper/retrofit/gpu"
)

// Handle identifies one live resource in an Allocator. Handles are never
// reused and NilHandle is never minted.
type Handle uint64

// NilHandle is returned from failed allocations. It never maps to a live
// resource.
const NilHandle Handle = 0

// Resource is the bookkeeping record for one GPU allocation. The tracked
// explicit-API state of a resource lives in the state tracker, not here; this
// record only carries what the allocator needs for lifetime management.
type Resource struct {
	handle       Handle
	native       gpu.Resource
	size         int
	heapClass    gpu.HeapClass
	initialState gpu.ResourceState
	createdFrame uint64
	temporary    bool
	pendingFree  bool
	debugName    string
}

func (r *Resource) Handle() Handle { return r.handle }

// Native returns the device resource behind this record.
func (r *Resource) Native() gpu.Resource { return r.native }

func (r *Resource) Size() int { return r.size }

func (r *Resource) HeapClass() gpu.HeapClass { return r.heapClass }

// InitialState is the explicit-API state the resource was created in. The
// state tracker seeds its record from this value at registration.
func (r *Resource) InitialState() gpu.ResourceState { return r.initialState }

// CreatedFrame is the allocator frame index at creation time.
func (r *Resource) CreatedFrame() uint64 { return r.createdFrame }

// Temporary reports whether this is a one-shot staging resource that the
// allocator reclaims automatically on the next BeginFrame.
func (r *Resource) Temporary() bool { return r.temporary }

func (r *Resource) DebugName() string { return r.debugName }
