package reachability

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget is returned by New when the platform refuses the target.
	ErrInvalidTarget = errors.New("invalid reachability target")
	// ErrClosed is returned when listening is requested on a closed Manager.
	ErrClosed = errors.New("reachability manager is closed")
)

// RegistrationError reports that the platform refused to attach the change
// callback. The Manager stays dormant and StartListening may be retried.
type RegistrationError struct {
	Target Target
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register reachability callback for %s: %v", e.Target, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
