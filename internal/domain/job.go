package domain

import "time"

type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions. A
// failed job with attempts remaining is requeued by the broker and only
// becomes terminal once its attempts are exhausted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

type InputKind string

const (
	InputURL  InputKind = "url"
	InputText InputKind = "text"
)

// Job is one submitted unit of analysis work. The broker serializes it as
// JSON; the system-of-record keeps its own row keyed by ID.
type Job struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	InputKind   InputKind `json:"input_kind"`
	Payload     string    `json:"payload"`
	Priority    Priority  `json:"priority"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Duration is wall-clock processing time for finished jobs, time since
// start for active ones, zero before the first claim.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
