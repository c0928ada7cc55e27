// Package jobstore owns the authoritative job records and the
// eventually-consistent metadata side records. Status transitions go
// through conditional updates so a terminal state can never regress.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/shared/postgresql"
)

// Store is the PostgreSQL-backed job record store
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new job record Store
func NewStore(client *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     client.GetDB(),
		logger: logger,
	}
}

// IsUniqueViolation reports whether err is a unique-constraint conflict,
// used to detect idempotency-key races at insert time.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create inserts a new job record
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, idempotency_key, user_id, job_type, status,
			credits_charged, input_data, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	var idempotencyKey sql.NullString
	if job.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: job.IdempotencyKey, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		idempotencyKey,
		job.UserID,
		job.JobType,
		job.Status,
		job.CreditsCharged,
		[]byte(job.InputData),
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

const jobColumns = `
	job_id, COALESCE(idempotency_key, '') AS idempotency_key, user_id, job_type, status,
	credits_charged, input_data, output_data, COALESCE(error_message, '') AS error_message,
	created_at, updated_at, completed_at
`

// GetByID retrieves a job scoped to its owner. A job belonging to
// another user is indistinguishable from an absent one.
func (s *Store) GetByID(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 AND user_id = $2`

	err := s.db.GetContext(ctx, &job, query, jobID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// FindByIdempotencyKey looks up a user's prior submission under the key
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 AND idempotency_key = $2`

	err := s.db.GetContext(ctx, &job, query, userID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job by idempotency key: %w", err)
	}

	return &job, nil
}

// OwnerOf resolves a job id to its owning user, unscoped. Used by the
// notification fan-out to route update messages.
func (s *Store) OwnerOf(ctx context.Context, jobID string) (string, error) {
	var userID string
	err := s.db.GetContext(ctx, &userID, `SELECT user_id FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to resolve job owner: %w", err)
	}
	return userID, nil
}

// StatusOf returns a job's current status, unscoped
func (s *Store) StatusOf(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return status, nil
}

// Filter narrows ListForUser results
type Filter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a (created_at, job_id) position for keyset pagination
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListForUser lists a user's jobs newest first with keyset pagination
func (s *Store) ListForUser(ctx context.Context, filter Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// StatusFields carries the optional columns set alongside a transition
type StatusFields struct {
	OutputData   json.RawMessage
	ErrorMessage string
	Completed    bool
}

// UpdateStatus conditionally moves a job from one of the given statuses
// to newStatus. It returns false without error when the job is absent
// or no longer in an eligible state, which is how duplicate terminal
// updates are detected.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, from []string, newStatus string, fields StatusFields) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("at least one source status required")
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    output_data = COALESCE($2, output_data),
		    error_message = COALESCE(NULLIF($3, ''), error_message),
		    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $5 AND status = ANY($6)
	`

	var outputData interface{}
	if fields.OutputData != nil {
		outputData = []byte(fields.OutputData)
	}

	result, err := s.db.ExecContext(ctx, query,
		newStatus,
		outputData,
		fields.ErrorMessage,
		fields.Completed,
		jobID,
		pq.Array(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", newStatus),
		)
	}

	return rows > 0, nil
}

// CancelIfPending atomically cancels a still-pending job owned by the
// caller. It returns false, not an error, when the job is absent, owned
// by someone else, or already past pending; cancellation is best-effort
// once dispatch has begun.
func (s *Store) CancelIfPending(ctx context.Context, jobID, userID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = NOW(), completed_at = NOW()
		WHERE job_id = $2 AND user_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCancelled, jobID, userID, domain.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}
