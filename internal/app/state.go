package app

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of an Application.
type State int

const (
	Uninited State = iota
	Inited
	Ready
	Running
	Stopped
	Shutdown
)

var stateNames = [...]string{"UNINITED", "INITED", "READY", "RUNNING", "STOPPED", "SHUTDOWN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// StateError reports an operation attempted in a state that does not
// allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("app: cannot %s in state %s", e.Op, e.State)
}

// IsStateError returns true if err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// transitions lists the states each lifecycle operation may start from and
// the state it leads to.
var transitions = map[string]struct {
	from []State
	to   State
}{
	"initialize": {from: []State{Uninited}, to: Inited},
	"start":      {from: []State{Inited}, to: Ready},
	"run":        {from: []State{Ready}, to: Running},
	"stop":       {from: []State{Ready, Running}, to: Stopped},
	"shutdown":   {from: []State{Stopped}, to: Shutdown},
}
