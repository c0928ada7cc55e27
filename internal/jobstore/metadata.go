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

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/shared/postgresql"
)

// MetadataStore is the side record store: free-form parameters, the
// ordered processing-step history, and output-file descriptors. It may
// lag the job record by one update-propagation cycle and is never
// authoritative for status.
type MetadataStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewMetadataStore creates a new MetadataStore
func NewMetadataStore(client *postgresql.Client, logger *slog.Logger) *MetadataStore {
	return &MetadataStore{
		db:     client.GetDB(),
		logger: logger,
	}
}

type metadataRow struct {
	JobID           string          `db:"job_id"`
	Parameters      []byte          `db:"parameters"`
	InputFiles      []byte          `db:"input_files"`
	ProcessingSteps []byte          `db:"processing_steps"`
	OutputFiles     []byte          `db:"output_files"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// Create inserts the metadata record for a new job
func (s *MetadataStore) Create(ctx context.Context, meta *domain.JobMetadata) error {
	inputFiles, err := json.Marshal(meta.InputFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal input files: %w", err)
	}

	params := meta.Parameters
	if params == nil {
		params = json.RawMessage(`{}`)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_metadata (job_id, parameters, input_files, processing_steps, output_files, updated_at)
		VALUES ($1, $2, $3, '[]'::jsonb, '[]'::jsonb, NOW())
	`, meta.JobID, []byte(params), inputFiles)
	if err != nil {
		return fmt.Errorf("failed to create job metadata: %w", err)
	}

	return nil
}

// AppendStep appends one processing-step entry to the ordered history
func (s *MetadataStore) AppendStep(ctx context.Context, jobID string, step domain.ProcessingStep) error {
	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal processing step: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE job_metadata
		SET processing_steps = processing_steps || $2::jsonb,
		    updated_at = NOW()
		WHERE job_id = $1
	`, jobID, raw)
	if err != nil {
		return fmt.Errorf("failed to append processing step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// AddOutputFiles appends produced artifacts to the metadata record
func (s *MetadataStore) AddOutputFiles(ctx context.Context, jobID string, files []domain.OutputFile) error {
	if len(files) == 0 {
		return nil
	}

	raw, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to marshal output files: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE job_metadata
		SET output_files = output_files || $2::jsonb,
		    updated_at = NOW()
		WHERE job_id = $1
	`, jobID, raw)
	if err != nil {
		return fmt.Errorf("failed to add output files: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Debug("Output files recorded",
		slog.String("job_id", jobID),
		slog.Int("count", len(files)),
	)

	return nil
}

// Get retrieves the metadata record for a job
func (s *MetadataStore) Get(ctx context.Context, jobID string) (*domain.JobMetadata, error) {
	var row metadataRow
	err := s.db.GetContext(ctx, &row, `
		SELECT job_id, parameters, input_files, processing_steps, output_files, updated_at
		FROM job_metadata
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job metadata: %w", err)
	}

	meta := &domain.JobMetadata{
		JobID:      row.JobID,
		Parameters: json.RawMessage(row.Parameters),
		UpdatedAt:  row.UpdatedAt,
	}
	if err := json.Unmarshal(row.InputFiles, &meta.InputFiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input files: %w", err)
	}
	if err := json.Unmarshal(row.ProcessingSteps, &meta.ProcessingSteps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processing steps: %w", err)
	}
	if err := json.Unmarshal(row.OutputFiles, &meta.OutputFiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output files: %w", err)
	}

	return meta, nil
}
