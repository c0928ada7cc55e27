package domain

import (
	"encoding/json"
	"time"
)

// Job status constants. A job moves through the state machine
// pending -> {processing -> {completed, failed}, cancelled}; the three
// terminal states never transition again.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the authoritative job record. CreditsCharged is fixed at
// creation; only the lifecycle coordinator transitions Status.
type Job struct {
	JobID          string          `db:"job_id"`
	IdempotencyKey string          `db:"idempotency_key"`
	UserID         string          `db:"user_id"`
	JobType        string          `db:"job_type"`
	Status         string          `db:"status"`
	CreditsCharged int             `db:"credits_charged"`
	InputData      json.RawMessage `db:"input_data"`
	OutputData     json.RawMessage `db:"output_data"`
	ErrorMessage   string          `db:"error_message"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	CompletedAt    *time.Time      `db:"completed_at"`
}

// ProcessingStep is one entry of the ordered worker-progress history
// kept in the metadata side store.
type ProcessingStep struct {
	Step      string    `json:"step"`
	Progress  int       `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OutputFile describes one produced artifact by its opaque storage key.
type OutputFile struct {
	Filename string `json:"filename"`
	Key      string `json:"key"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

// InputFile describes one uploaded input by its opaque storage key.
type InputFile struct {
	Filename string `json:"filename"`
	Key      string `json:"key"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

// JobMetadata is the eventually-consistent side record of a job. It may
// lag the job record by one update-propagation cycle and is never
// authoritative for status.
type JobMetadata struct {
	JobID           string           `json:"job_id"`
	Parameters      json.RawMessage  `json:"parameters,omitempty"`
	InputFiles      []InputFile      `json:"input_files,omitempty"`
	ProcessingSteps []ProcessingStep `json:"processing_steps"`
	OutputFiles     []OutputFile     `json:"output_files"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Transaction is one immutable row of the credit audit trail. Amount is
// signed: negative for debits, positive for credits.
type Transaction struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Kind          string    `db:"kind" json:"kind"`
	Amount        int       `db:"amount" json:"amount"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Transaction kinds.
const (
	TransactionKindDebit  = "debit"
	TransactionKindCredit = "credit"
)
