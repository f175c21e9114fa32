package inference

import (
	"context"
	"errors"
	"fmt"
)

// ErrPreconditionViolation marks a call into the GPU stage without a held
// lease. It indicates a scheduling bug, never a recoverable outcome.
var ErrPreconditionViolation = errors.New("inference: called without a valid gpu lease")

// Lease is the exclusive-access token the scheduler hands to the stage. The
// stage only checks it; acquisition and release belong to the scheduler.
type Lease interface {
	JobID() string
	Valid() bool
}

// Turn is one diarized speaker span, before transcription.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Health describes the accelerator behind the engine.
type Health struct {
	GPUAvailable bool   `json:"gpu_available"`
	GPUName      string `json:"gpu_name"`
}

// Engine is the opaque accelerator-bound capability: diarize a prepared
// recording, transcribe one extracted chunk. The core never sees the model.
type Engine interface {
	Diarize(ctx context.Context, audioPath string) ([]Turn, error)
	Transcribe(ctx context.Context, chunkPath, language string) (string, error)
	Health(ctx context.Context) (Health, error)
	IsConfigured() bool
}

// ErrorKind splits inference failures into retryable device exhaustion and
// terminal model failures.
type ErrorKind string

const (
	KindOutOfMemory  ErrorKind = "out_of_memory"
	KindModelFailure ErrorKind = "model_failure"
)

// Error is the failure type for the inference stage.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("inference: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsOutOfMemory reports whether err is retryable device memory exhaustion.
func IsOutOfMemory(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindOutOfMemory
}

// IsModelFailure reports whether err is a terminal model failure.
func IsModelFailure(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindModelFailure
}
