package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gpu"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one thread at a time or is
	// synchronized by some other mechanism, but performance may improve because internal mutexes
	// are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

const (
	// DefaultRingSize is the number of frames kept in flight when CreateOptions
	// does not override it. Three slots allow the CPU to prepare frame k+1 and
	// k+2 while the GPU executes frame k.
	DefaultRingSize = 3
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// RingSize is the number of frame-ring slots, i.e. how many frames of GPU
	// work may be in flight before deferred destruction catches up. Leave 0
	// for DefaultRingSize.
	RingSize int

	// HeapBudgets can be left empty. If it is provided, it must hold one entry
	// per gpu.HeapClass value, each entry being either the maximum number of
	// bytes that may be live in that heap class at once, or -1 indicating no
	// limit. Budgets are enforced at allocation time: an allocation that would
	// exceed the budget returns NilHandle and BudgetExceededError.
	HeapBudgets []int

	// MessageSink optionally receives validation warnings from the allocator,
	// such as leak reports at destruction.
	MessageSink gpu.MessageSink
}

// New creates a new Allocator bound to the provided device.
//
// device - The device context that all resources are created against
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("arena.New: device must not be nil")
	}

	ringSize := options.RingSize
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}
	if ringSize < 2 {
		return nil, errors.Newf("arena.New: ring size %d is below the minimum of 2", ringSize)
	}

	budgets := [heapClassCount]int{-1, -1, -1}
	if len(options.HeapBudgets) > 0 {
		if len(options.HeapBudgets) != heapClassCount {
			return nil, errors.Newf("arena.New: HeapBudgets must have %d entries, got %d", heapClassCount, len(options.HeapBudgets))
		}
		copy(budgets[:], options.HeapBudgets)
	}

	allocator := &Allocator{
		logger: logger,
		device: device,
		sink:   options.MessageSink,

		ringSize:   ringSize,
		pending:    make([][]Handle, ringSize),
		budgets:    budgets,
		resources:  swiss.NewMap[Handle, *Resource](64),
		nextHandle: 1,
	}
	allocator.mutex.UseMutex = options.Flags&AllocatorCreateExternallySynchronized == 0

	return allocator, nil
}
