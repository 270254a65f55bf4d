package command

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/retrofit/gpu"
)

// State is the lifecycle state of a pooled command list.
type State uint32

const (
	// StateInitialized is a list sitting in the pool, not bound to an
	// allocator for the current frame.
	StateInitialized State = iota
	// StateRecording is a list that accepts commands.
	StateRecording
	// StateClosed is a list whose recording ended and which may be submitted.
	StateClosed
	// StateExecuting is a list submitted to a queue whose completion is not
	// yet known.
	StateExecuting
)

var stateMapping = make(map[State]string)

func (s State) String() string {
	return stateMapping[s]
}

func init() {
	stateMapping[StateInitialized] = "StateInitialized"
	stateMapping[StateRecording] = "StateRecording"
	stateMapping[StateClosed] = "StateClosed"
	stateMapping[StateExecuting] = "StateExecuting"
}

// List is a recyclable command list. Lists are created through Pool.Get and
// handed back with Pool.Return once their GPU work is known complete; they
// are reset and reused rather than destroyed.
type List struct {
	native    gpu.CommandList
	listType  gpu.ListType
	state     State
	allocator *allocatorRecord
}

// Native returns the device command list for recording.
func (l *List) Native() gpu.CommandList { return l.native }

func (l *List) Type() gpu.ListType { return l.listType }

func (l *List) State() State { return l.state }

// Close ends recording. The list can then be submitted exactly once.
func (l *List) Close() error {
	if l.state != StateRecording {
		return errors.Newf("cannot close a command list in %s", l.state)
	}

	err := l.native.Close()
	if err != nil {
		return errors.Wrap(err, "closing command list")
	}
	l.state = StateClosed
	return nil
}
