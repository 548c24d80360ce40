package bridge

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by requests made after the coordinator loop has exited.
var ErrStopped = errors.New("bridge coordinator stopped")

// SetupError reports the step at which a connection setup failed.
type SetupError struct {
	Slot Slot
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s setup failed at %q: %v", e.Slot, e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
