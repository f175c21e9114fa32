package model

import "time"

// JobStatus tracks a job through its lifecycle. Succeeded, Failed and
// Cancelled are terminal.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one submitted unit of processing work. The scheduler is the sole
// owner of Status, AttemptCount, the timestamps and Error; blob bytes behind
// the refs belong to the storage manager and are immutable once written.
type Job struct {
	ID              string        `json:"id"`
	Status          JobStatus     `json:"status"`
	Priority        int           `json:"priority"`
	Filename        string        `json:"filename"`
	Language        string        `json:"language"`
	InputRef        string        `json:"inputRef"`
	IntermediateRef string        `json:"intermediateRef,omitempty"`
	OutputRef       string        `json:"outputRef,omitempty"`
	AttemptCount    int           `json:"attemptCount"`
	Progress        int           `json:"progress"`
	CurrentStep     string        `json:"currentStep,omitempty"`
	Error           *string       `json:"error,omitempty"`
	Transform       TransformSpec `json:"transform"`
	Result          []byte        `json:"result,omitempty"` // ProcessResult JSON
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	FinishedAt      *time.Time    `json:"finishedAt,omitempty"`
}

// Clone returns a copy safe to hand out while the scheduler keeps mutating
// the original.
func (j *Job) Clone() *Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	return &c
}

// TransformSpec enumerates the options the media transform stage recognizes.
type TransformSpec struct {
	SampleRate    int     `json:"sampleRate"`
	Channels      int     `json:"channels"`
	Format        string  `json:"format"`
	TrimLeadSec   float64 `json:"trimLeadSec"`
	RemoveSilence bool    `json:"removeSilence"`
}

// DefaultTransformSpec matches what the inference engine expects: 16 kHz mono
// WAV with the first seconds trimmed to drop dial tones and beeps.
func DefaultTransformSpec() TransformSpec {
	return TransformSpec{
		SampleRate:    16000,
		Channels:      1,
		Format:        "wav",
		TrimLeadSec:   3.0,
		RemoveSilence: true,
	}
}

// TranscriptSegment is one diarized, transcribed span of the input audio.
type TranscriptSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Skipped  bool    `json:"skipped,omitempty"`
}

// ProcessResult is the final artifact of a succeeded job.
type ProcessResult struct {
	JobID               string              `json:"job_id"`
	Filename            string              `json:"filename"`
	Language            string              `json:"language"`
	BeepDurationSeconds float64             `json:"beep_duration_seconds"`
	TotalSegments       int                 `json:"total_segments"`
	Results             []TranscriptSegment `json:"results"`
	ArtifactURL         string              `json:"artifact_url,omitempty"`
	CompletedAt         time.Time           `json:"completed_at"`
}
