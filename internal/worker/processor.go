package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/genstudio/genstudio-be/internal/dispatch"
	"github.com/genstudio/genstudio-be/internal/domain"
)

// processEntry runs one queue entry to a terminal outcome, enforcing
// the retry policy carried with it. Every attempt gets a fresh timeout
// context; exhausted attempts publish the terminal failed update and
// return nil so the delivery is ACKed.
func (w *Worker) processEntry(ctx context.Context, entry domain.QueueEntry) error {
	policy := dispatch.PolicyFromQueue(entry.Policy)
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	w.publishUpdate(ctx, domain.UpdateMessage{
		JobID:   entry.JobID,
		Status:  domain.UpdateStatusProcessing,
		Message: "Processing started",
	})

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := w.runAttempt(ctx, entry, policy)
		if err == nil {
			w.publishUpdate(ctx, domain.UpdateMessage{
				JobID:       entry.JobID,
				Status:      domain.UpdateStatusCompleted,
				Result:      result.Output,
				OutputFiles: result.OutputFiles,
			})
			return nil
		}
		lastErr = err

		// A bad payload will not improve with retries.
		if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrUnknownJobType) {
			break
		}
		if ctx.Err() != nil {
			// Shutdown, not a job failure; requeue for another worker.
			return domain.NewRetryableError(ctx.Err())
		}

		if attempt < policy.MaxAttempts {
			delay := policy.Delay(attempt)
			w.logger.Warn("Job attempt failed, retrying",
				slog.String("job_id", entry.JobID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if !w.sleep(ctx, delay) {
				return domain.NewRetryableError(ctx.Err())
			}
		}
	}

	w.logger.Error("Job attempts exhausted",
		slog.String("job_id", entry.JobID),
		slog.String("job_type", entry.JobType),
		slog.Int("max_attempts", policy.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)

	w.publishUpdate(ctx, domain.UpdateMessage{
		JobID:  entry.JobID,
		Status: domain.UpdateStatusFailed,
		Error:  lastErr.Error(),
	})

	return nil
}

// runAttempt executes the generation step once under the policy's
// per-attempt timeout.
func (w *Worker) runAttempt(ctx context.Context, entry domain.QueueEntry, policy dispatch.RetryPolicy) (*Result, error) {
	timeout := policy.AttemptTimeout
	if timeout <= 0 {
		timeout = w.jobTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := func(progress int, message string) {
		w.publishUpdate(ctx, domain.UpdateMessage{
			JobID:    entry.JobID,
			Status:   domain.UpdateStatusProgress,
			Progress: progress,
			Message:  message,
		})
	}

	result, err := w.executor.Execute(attemptCtx, entry, report)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// publishUpdate is best effort for non-terminal states; terminal
// publish failures are logged loudly since clients would otherwise
// never learn the outcome until they poll.
func (w *Worker) publishUpdate(ctx context.Context, msg domain.UpdateMessage) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.updates.Publish(publishCtx, msg); err != nil {
		w.logger.Error("Failed to publish update message",
			slog.String("job_id", msg.JobID),
			slog.String("status", msg.Status),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until ctx ends; it reports whether the full
// delay elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
