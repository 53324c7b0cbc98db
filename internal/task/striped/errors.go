package striped

import (
	"errors"
	"fmt"
)

var (
	ErrStopped     = errors.New("striped scheduler stopped")
	ErrInvalidTask = errors.New("invalid task")
)

// PanicError is the failure recorded when work panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
