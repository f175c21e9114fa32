package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/storage"
)

// Runner invokes ffmpeg once per call. It is stateless; concurrent calls each
// get their own process.
type Runner struct {
	bin     string
	timeout time.Duration
	store   *storage.LocalStore
	log     zerolog.Logger
}

// NewRunner wraps the given ffmpeg binary with a per-invocation wall-clock
// timeout.
func NewRunner(bin string, timeout time.Duration, store *storage.LocalStore, log zerolog.Logger) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Runner{
		bin:     bin,
		timeout: timeout,
		store:   store,
		log:     log.With().Str("component", "transform").Logger(),
	}
}

// Normalize converts the uploaded media to the format the inference engine
// expects (sample rate, channel count, container) and trims the configured
// lead-in to drop dial tones and beeps. It returns the intermediate ref and
// the number of seconds actually trimmed.
func (r *Runner) Normalize(ctx context.Context, in storage.Ref, jobID string, spec model.TransformSpec) (storage.Ref, float64, error) {
	inPath, err := r.store.Path(in)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", 0, &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf("input blob %s missing", in)}
		}
		return "", 0, err
	}

	format := spec.Format
	if format == "" {
		format = "wav"
	}
	outRef, outPath, err := r.store.Allocate(storage.KindWork, fmt.Sprintf("%s/normalized.%s", jobID, format))
	if err != nil {
		return "", 0, err
	}

	trimmed := spec.TrimLeadSec
	args := buildNormalizeArgs(inPath, outPath, spec)
	if err := r.run(ctx, args); err != nil {
		return "", 0, err
	}
	if err := r.store.Commit(outRef); err != nil {
		return "", 0, &Error{Kind: KindProcessFailure, Msg: "transcoder produced no output", Err: err}
	}

	r.log.Info().Str("job", jobID).Str("ref", outRef.String()).
		Float64("trimmed_sec", trimmed).Msg("media normalized")
	return outRef, trimmed, nil
}

// ExtractSegment cuts [start, start+dur) out of an already-normalized blob
// into its own WAV, for per-segment transcription.
func (r *Runner) ExtractSegment(ctx context.Context, in storage.Ref, jobID string, idx int, start, dur float64) (storage.Ref, error) {
	inPath, err := r.store.Path(in)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf("intermediate blob %s missing", in)}
		}
		return "", err
	}

	outRef, outPath, err := r.store.Allocate(storage.KindWork, fmt.Sprintf("%s/chunk_%03d.wav", jobID, idx))
	if err != nil {
		return "", err
	}

	args := buildExtractArgs(inPath, outPath, start, dur)
	if err := r.run(ctx, args); err != nil {
		return "", err
	}
	if err := r.store.Commit(outRef); err != nil {
		return "", &Error{Kind: KindProcessFailure, Msg: "transcoder produced no output", Err: err}
	}
	return outRef, nil
}

// buildNormalizeArgs derives the ffmpeg argument list from the spec. The
// argument list is the whole contract with the external process; exit code
// and stderr are the only failure signal.
func buildNormalizeArgs(inPath, outPath string, spec model.TransformSpec) []string {
	args := []string{"-hide_banner", "-nostdin"}
	if spec.TrimLeadSec > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", spec.TrimLeadSec))
	}
	args = append(args, "-i", inPath)
	if spec.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", spec.SampleRate))
	}
	if spec.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", spec.Channels))
	}
	if spec.RemoveSilence {
		// Strip long silences so the accelerator only sees speech. Mirrors
		// the VAD preprocessing step, minus the model.
		args = append(args, "-af",
			"silenceremove=start_periods=1:stop_periods=-1:stop_duration=0.5:stop_threshold=-40dB")
	}
	args = append(args, "-vn", "-y", outPath)
	return args
}

func buildExtractArgs(inPath, outPath string, start, dur float64) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", dur),
		"-i", inPath,
		"-c", "copy",
		"-y", outPath,
	}
}

func (r *Runner) run(ctx context.Context, args []string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.log.Debug().Str("cmd", cmd.String()).Msg("running transcoder")

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &Error{
			Kind:   KindProcessFailure,
			Msg:    fmt.Sprintf("transcoder timed out after %s", r.timeout),
			Stderr: tail(stderr.String()),
			Err:    runCtx.Err(),
		}
	}
	return classify(err, stderr.String())
}

// classify maps a non-zero exit to the error taxonomy by inspecting stderr.
// ffmpeg reports malformed media with distinctive messages; anything else is
// treated as a process failure and left to the retry policy.
func classify(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	for _, marker := range invalidInputMarkers {
		if strings.Contains(lower, marker) {
			return &Error{
				Kind:   KindInvalidInput,
				Msg:    "malformed or unsupported media",
				Stderr: tail(stderr),
				Err:    err,
			}
		}
	}
	return &Error{
		Kind:   KindProcessFailure,
		Msg:    "transcoder exited non-zero",
		Stderr: tail(stderr),
		Err:    err,
	}
}

var invalidInputMarkers = []string{
	"invalid data found when processing input",
	"moov atom not found",
	"could not find codec parameters",
	"unknown format",
	"header missing",
	"end of file",
}

// tail keeps only the last part of stderr so job errors stay readable.
func tail(s string) string {
	const max = 512
	s = strings.TrimSpace(s)
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
