package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidState = errors.New("invalid workflow state")
	ErrTimeout      = errors.New("workflow timed out")
	ErrEndReached   = errors.New("end of clip reached")
)

// InvalidStateError reports an operation issued in a state that does not allow it.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("workflow: %s: invalid state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// TimeoutError reports a wait that did not reach its condition in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow: %s: timed out after %v", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
