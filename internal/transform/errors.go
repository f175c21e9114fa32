package transform

import (
	"errors"
	"fmt"
)

// ErrorKind splits transform failures into the two classes the scheduler
// cares about: bad media (terminal) versus a flaky external process
// (retryable).
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindProcessFailure ErrorKind = "process_failure"
)

// Error is the failure type for the transform stage.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("transform: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err is a terminal bad-media failure.
func IsInvalidInput(err error) bool {
	return kindOf(err) == KindInvalidInput
}

// IsProcessFailure reports whether err is a retryable transcoder failure.
func IsProcessFailure(err error) bool {
	return kindOf(err) == KindProcessFailure
}

func kindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
