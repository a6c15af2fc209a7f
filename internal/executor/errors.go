package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGenerator is returned when a generator reference does not
	// resolve to a file inside the generators directory.
	ErrInvalidGenerator = errors.New("invalid generator reference")

	// ErrTimedOut is returned when an ad-hoc execution exceeds its ceiling.
	ErrTimedOut = errors.New("generator execution timed out")
)

// ChildProcessError reports a generator that could not be started.
type ChildProcessError struct {
	Program string
	Err     error
}

func (e *ChildProcessError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *ChildProcessError) Unwrap() error {
	return e.Err
}
