package domain

import (
	"encoding/json"
	"time"
)

// Update statuses published by workers on the shared channel. Progress
// is not a job state; it reports percentage without changing status.
const (
	UpdateStatusPending    = "pending"
	UpdateStatusProcessing = "processing"
	UpdateStatusProgress   = "progress"
	UpdateStatusCompleted  = "completed"
	UpdateStatusFailed     = "failed"
)

// UpdateMessage is the worker-to-coordinator wire contract on the
// job-updates channel. Delivery is at-least-once with no cross-job
// ordering; field names follow the channel's established JSON form.
type UpdateMessage struct {
	JobID       string          `json:"jobId"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	OutputFiles []OutputFile    `json:"outputFiles,omitempty"`
	Error       string          `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Client-facing event kinds delivered over the realtime stream.
const (
	EventKindUpdate   = "update"
	EventKindProgress = "progress"
	EventKindComplete = "complete"
	EventKindError    = "error"
	EventKindCredits  = "credits"
)

// ClientEvent is one outbound realtime event for a subscribed client.
// Credits is a pointer so a balance of zero still serializes on credits
// events while every other kind omits the field.
type ClientEvent struct {
	Kind      string          `json:"kind"`
	JobID     string          `json:"jobId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Progress  int             `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Credits   *int            `json:"credits,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// QueueEntry is the durable work-queue message. The job id doubles as
// the idempotency key; the retry policy travels with the entry so the
// worker infrastructure can enforce it without further negotiation.
type QueueEntry struct {
	JobID   string          `json:"job_id"`
	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
	Policy  QueuePolicy     `json:"policy"`
}

// QueuePolicy is the serialized per-job-type retry policy.
type QueuePolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	BackoffType    string        `json:"backoff_type"`
	BackoffDelay   time.Duration `json:"backoff_delay"`
	AttemptTimeout time.Duration `json:"attempt_timeout,omitempty"`
}
