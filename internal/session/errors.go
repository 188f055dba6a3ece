package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session transitions. All are recoverable: the
// controller rejects the operation and leaves state untouched.
var (
	// ErrSessionAlreadyActive is returned by Start when a non-ended session
	// already exists for the project root.
	ErrSessionAlreadyActive = errors.New("a session is already active")

	// ErrNoActiveSession is returned when an operation needs a session and
	// none exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrInvalidTransition is returned for operations issued in a state
	// that does not permit them, such as mark while paused.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrSessionAlreadyEnded is returned when end is called on an ended
	// session. Ended is terminal.
	ErrSessionAlreadyEnded = errors.New("session already ended")
)

// TransitionError reports a rejected operation: the attempted operation,
// the state the session was in, and the precondition that failed.
type TransitionError struct {
	Op           string
	State        Status
	Precondition string
	Err          error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("operation %s rejected (session state %s): %s", e.Op, e.State, e.Precondition)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func rejected(op string, state Status, precondition string, sentinel error) error {
	return &TransitionError{Op: op, State: state, Precondition: precondition, Err: sentinel}
}
