package supervisor

import "errors"

// State is the externally visible lifecycle state of the managed
// tunnel service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned when an operation is not legal in the
// current lifecycle state, such as reloading a stopped service.
var ErrInvalidState = errors.New("operation not valid in current state")
