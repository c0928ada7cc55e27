// Package dispatch submits accepted jobs to the durable work queue.
// The job id is the idempotency key: the queue message carries it as
// the message id, and the worker side treats redeliveries of the same
// id as one logical unit of work.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// Publisher is the queue client seam
type Publisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// Dispatcher submits queue entries under the per-type retry policy
type Dispatcher struct {
	publisher Publisher
	table     *Table
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(publisher Publisher, table *Table, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		table:     table,
		logger:    logger,
	}
}

// Submit enqueues one job. Enqueue failure is reported synchronously as
// ErrQueueUnavailable; the caller treats it as fatal to the submission.
func (d *Dispatcher) Submit(ctx context.Context, jobID, jobType string, payload json.RawMessage) error {
	policy, ok := d.table.PolicyFor(jobType)
	if !ok {
		return fmt.Errorf("%w: %q has no dispatch policy", domain.ErrUnknownJobType, jobType)
	}

	entry := domain.QueueEntry{
		JobID:   jobID,
		JobType: jobType,
		Payload: payload,
		Policy:  policy.Queue(),
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, jobID, body, "application/json"); err != nil {
		d.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("job_type", jobType),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	d.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("job_type", jobType),
		slog.Int("max_attempts", policy.MaxAttempts),
	)

	return nil
}
