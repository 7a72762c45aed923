package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable = errors.New("Source unavailable")
	ErrSinkUnavailable   = errors.New("Sink unavailable")
	ErrDetectorFailed    = errors.New("Detector failed")
	ErrFrameFailed       = errors.New("Frame processing failed")
	ErrInvalidConfig     = errors.New("Invalid run configuration")
	ErrCancelled         = errors.New("Cancelled")
)

// RunError is returned by a run that did not complete.
// errors.Is() matches both the sentinel (eg ErrSourceUnavailable) and the underlying cause.
type RunError struct {
	State State
	Kind  error // One of the Err* sentinels in this package
	Cause error
}

func (e *RunError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
}

func (e *RunError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func failed(kind, cause error) *RunError {
	return &RunError{State: StateFailed, Kind: kind, Cause: cause}
}
