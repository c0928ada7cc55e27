// Package lifecycle orchestrates the paid job lifecycle: the ordered
// submission protocol on the way in, and worker-update application on
// the way back. It is the only component that transitions job status.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/internal/jobstore"
)

// Ledger is the credit ledger seam
type Ledger interface {
	HasSufficientBalance(ctx context.Context, userID string, amount int) (bool, error)
	Deduct(ctx context.Context, userID string, amount int, correlationID string) error
	Add(ctx context.Context, userID string, amount int, correlationID string) error
	GetBalance(ctx context.Context, userID string) (int, error)
}

// RecordStore is the authoritative job record seam
type RecordStore interface {
	Create(ctx context.Context, job *domain.Job) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Job, error)
	OwnerOf(ctx context.Context, jobID string) (string, error)
	StatusOf(ctx context.Context, jobID string) (string, error)
	UpdateStatus(ctx context.Context, jobID string, from []string, newStatus string, fields jobstore.StatusFields) (bool, error)
	CancelIfPending(ctx context.Context, jobID, userID string) (bool, error)
}

// MetadataStore is the side record seam
type MetadataStore interface {
	Create(ctx context.Context, meta *domain.JobMetadata) error
	AppendStep(ctx context.Context, jobID string, step domain.ProcessingStep) error
	AddOutputFiles(ctx context.Context, jobID string, files []domain.OutputFile) error
}

// Dispatcher is the work queue seam
type Dispatcher interface {
	Submit(ctx context.Context, jobID, jobType string, payload json.RawMessage) error
}

// Events receives client notifications. Implementations must never
// block; delivery failures are local to the fan-out and never surface
// back into lifecycle decisions.
type Events interface {
	JobUpdate(userID, jobID, status, message string)
	JobProgress(userID, jobID string, progress int, message string)
	JobComplete(userID, jobID string, result json.RawMessage)
	JobError(userID, jobID, errMsg string)
}

// Coordinator drives the job state machine
type Coordinator struct {
	ledger   Ledger
	records  RecordStore
	metadata MetadataStore
	queue    Dispatcher
	events   Events
	costs    map[string]int
	logger   *slog.Logger
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(ledger Ledger, records RecordStore, metadata MetadataStore, queue Dispatcher, events Events, costs map[string]int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		records:  records,
		metadata: metadata,
		queue:    queue,
		events:   events,
		costs:    costs,
		logger:   logger,
	}
}

// Cost returns the credit cost of a job type
func (c *Coordinator) Cost(jobType string) (int, error) {
	cost, ok := c.costs[jobType]
	if !ok {
		return 0, fmt.Errorf("%w: %q has no credit cost", domain.ErrUnknownJobType, jobType)
	}
	return cost, nil
}

// CheckBalance runs the advisory balance check for a job type without
// committing anything. The transport calls it before accepting input
// uploads so a user who cannot afford the job never pays the upload
// cost; the atomic deduct during Submit remains the real guard.
func (c *Coordinator) CheckBalance(ctx context.Context, userID, jobType string) error {
	cost, err := c.Cost(jobType)
	if err != nil {
		return err
	}

	enough, err := c.ledger.HasSufficientBalance(ctx, userID, cost)
	if err != nil {
		return err
	}
	if !enough {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// SubmitInput carries one submission into the coordinator. Input blobs
// are uploaded by the transport layer before Submit runs; the payload
// references them by opaque key only.
type SubmitInput struct {
	UserID         string
	Payload        domain.JobPayload
	IdempotencyKey string
	InputFiles     []domain.InputFile
}

// Submit runs the submission protocol in order: advisory balance check,
// record + metadata creation, enqueue, then the atomic deduct. Credits
// are deducted after the enqueue on purpose: a deduct failure past that
// point compensates by failing the job rather than ever charging twice.
// When the compensation path fires, the returned job is non-nil (the
// job was accepted and then failed) alongside the returned error.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (*domain.Job, error) {
	jobType := in.Payload.Type()

	cost, err := c.Cost(jobType)
	if err != nil {
		return nil, err
	}

	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}

	// Replayed idempotency key resolves to the prior submission.
	if in.IdempotencyKey != "" {
		existing, err := c.records.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err == nil {
			c.logger.Info("Duplicate submission resolved to existing job",
				slog.String("job_id", existing.JobID),
				slog.String("idempotency_key", in.IdempotencyKey),
			)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
	}

	// Advisory check. The atomic deduct below is the real guard; this
	// only avoids creating records and queue entries we know will fail.
	if err := c.CheckBalance(ctx, in.UserID, jobType); err != nil {
		return nil, err
	}

	envelope, err := domain.EncodePayload(in.Payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		JobID:          uuid.New().String(),
		IdempotencyKey: in.IdempotencyKey,
		UserID:         in.UserID,
		JobType:        jobType,
		Status:         domain.JobStatusPending,
		CreditsCharged: cost,
		InputData:      envelope,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := c.records.Create(ctx, job); err != nil {
		if jobstore.IsUniqueViolation(err) && in.IdempotencyKey != "" {
			existing, findErr := c.records.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
			if findErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	params, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job parameters: %w", err)
	}
	if err := c.metadata.Create(ctx, &domain.JobMetadata{
		JobID:      job.JobID,
		Parameters: params,
		InputFiles: in.InputFiles,
	}); err != nil {
		// The side record is non-authoritative; a missing one is read-repaired
		// as empty history rather than failing the submission.
		c.logger.Warn("Failed to create job metadata",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	if err := c.queue.Submit(ctx, job.JobID, jobType, envelope); err != nil {
		// No pending record may remain without a queue entry.
		c.failJob(ctx, job, "work queue unavailable")
		return nil, err
	}

	if err := c.ledger.Deduct(ctx, in.UserID, cost, job.JobID); err != nil {
		// The queue entry already exists, so the job is accepted; the
		// shortfall is exceptional and the deduction is never retried.
		c.logger.Error("Deduct failed after enqueue, failing job",
			slog.String("job_id", job.JobID),
			slog.String("user_id", in.UserID),
			slog.Any("error", err),
		)
		c.failJob(ctx, job, "credits could not be deducted")
		c.events.JobError(in.UserID, job.JobID, "credits could not be deducted")
		return job, err
	}

	c.events.JobUpdate(in.UserID, job.JobID, domain.JobStatusPending, "Job queued for processing")

	c.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("job_type", jobType),
		slog.String("user_id", in.UserID),
		slog.Int("credits_charged", cost),
	)

	return job, nil
}

func (c *Coordinator) failJob(ctx context.Context, job *domain.Job, reason string) {
	ok, err := c.records.UpdateStatus(ctx, job.JobID,
		[]string{domain.JobStatusPending, domain.JobStatusProcessing},
		domain.JobStatusFailed,
		jobstore.StatusFields{ErrorMessage: reason, Completed: true},
	)
	if err != nil {
		c.logger.Error("Failed to mark job as failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}
	if ok {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = reason
	}
}

// Cancel advisorily cancels a still-pending job. It returns false when
// the job is absent, not owned by the caller, or already dispatched; a
// worker that has picked the entry up is not guaranteed to observe it.
func (c *Coordinator) Cancel(ctx context.Context, jobID, userID string) (bool, error) {
	return c.records.CancelIfPending(ctx, jobID, userID)
}

// ApplyUpdate applies one worker-published status update. Terminal
// transitions hit the record store strictly before any client event is
// emitted. Duplicates and out-of-order messages for a terminal job
// return ErrStaleUpdate; the caller logs them and nothing is delivered.
func (c *Coordinator) ApplyUpdate(ctx context.Context, msg domain.UpdateMessage) error {
	userID, err := c.records.OwnerOf(ctx, msg.JobID)
	if err != nil {
		return err
	}

	switch msg.Status {
	case domain.UpdateStatusProcessing:
		ok, err := c.records.UpdateStatus(ctx, msg.JobID,
			[]string{domain.JobStatusPending, domain.JobStatusProcessing},
			domain.JobStatusProcessing,
			jobstore.StatusFields{},
		)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrStaleUpdate
		}

		c.appendStep(ctx, msg.JobID, domain.ProcessingStep{
			Step:      domain.JobStatusProcessing,
			Message:   msg.Message,
			Timestamp: time.Now().UTC(),
		})

		message := msg.Message
		if message == "" {
			message = "Processing started"
		}
		c.events.JobUpdate(userID, msg.JobID, domain.JobStatusProcessing, message)

	case domain.UpdateStatusProgress:
		status, err := c.records.StatusOf(ctx, msg.JobID)
		if err != nil {
			return err
		}
		if domain.IsTerminalStatus(status) {
			return domain.ErrStaleUpdate
		}

		c.appendStep(ctx, msg.JobID, domain.ProcessingStep{
			Step:      domain.UpdateStatusProgress,
			Progress:  msg.Progress,
			Message:   msg.Message,
			Timestamp: time.Now().UTC(),
		})

		c.events.JobProgress(userID, msg.JobID, msg.Progress, msg.Message)

	case domain.UpdateStatusCompleted:
		ok, err := c.records.UpdateStatus(ctx, msg.JobID,
			[]string{domain.JobStatusPending, domain.JobStatusProcessing},
			domain.JobStatusCompleted,
			jobstore.StatusFields{OutputData: msg.Result, Completed: true},
		)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrStaleUpdate
		}

		if err := c.metadata.AddOutputFiles(ctx, msg.JobID, msg.OutputFiles); err != nil {
			c.logger.Warn("Failed to record output files",
				slog.String("job_id", msg.JobID),
				slog.Any("error", err),
			)
		}
		c.appendStep(ctx, msg.JobID, domain.ProcessingStep{
			Step:      domain.JobStatusCompleted,
			Message:   msg.Message,
			Timestamp: time.Now().UTC(),
		})

		// The authoritative record is terminal before this fires.
		c.events.JobComplete(userID, msg.JobID, msg.Result)

	case domain.UpdateStatusFailed:
		errMsg := msg.Error
		if errMsg == "" {
			errMsg = "Job failed"
		}

		ok, err := c.records.UpdateStatus(ctx, msg.JobID,
			[]string{domain.JobStatusPending, domain.JobStatusProcessing},
			domain.JobStatusFailed,
			jobstore.StatusFields{ErrorMessage: errMsg, Completed: true},
		)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrStaleUpdate
		}

		c.appendStep(ctx, msg.JobID, domain.ProcessingStep{
			Step:      domain.JobStatusFailed,
			Message:   errMsg,
			Timestamp: time.Now().UTC(),
		})

		c.events.JobError(userID, msg.JobID, errMsg)

	default:
		status, err := c.records.StatusOf(ctx, msg.JobID)
		if err != nil {
			return err
		}
		if domain.IsTerminalStatus(status) {
			return domain.ErrStaleUpdate
		}
		c.events.JobUpdate(userID, msg.JobID, msg.Status, msg.Message)
	}

	return nil
}

func (c *Coordinator) appendStep(ctx context.Context, jobID string, step domain.ProcessingStep) {
	if err := c.metadata.AppendStep(ctx, jobID, step); err != nil {
		c.logger.Warn("Failed to append processing step",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
