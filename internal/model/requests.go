package model

import "time"

// ProcessStartResponse is returned when an upload is accepted for processing.
type ProcessStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProcessStatusResponse is a consistent snapshot of one job.
type ProcessStatusResponse struct {
	JobID        string     `json:"jobId"`
	Status       JobStatus  `json:"status"`
	Priority     int        `json:"priority"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"currentStep,omitempty"`
	AttemptCount int        `json:"attemptCount"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// ProcessCancelResponse acknowledges a cancellation request.
type ProcessCancelResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// ProcessFormOptions are the optional multipart form fields on submission.
type ProcessFormOptions struct {
	Language string `validate:"omitempty,bcp47_language_tag"`
	Priority int    `validate:"gte=0,lte=9"`
}

// QueueSnapshot is a read-only view of scheduler state for the dashboard.
type QueueSnapshot struct {
	Queued      []QueueEntry `json:"queued"`
	Running     []string     `json:"running"`
	LeasesHeld  int          `json:"leasesHeld"`
	LeasesTotal int          `json:"leasesTotal"`
}

// QueueEntry is one waiting job in dispatch order.
type QueueEntry struct {
	JobID     string    `json:"jobId"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}
