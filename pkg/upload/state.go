package upload

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Task.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateCanceled
	StateFailed
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// ErrInvalidTransition is returned when a control call does not apply to the
// task's current state. The task is left unchanged.
var ErrInvalidTransition = errors.New("invalid upload state transition")

func invalidTransition(op string, from State) error {
	return fmt.Errorf("%w: cannot %s a %s upload", ErrInvalidTransition, op, from)
}
