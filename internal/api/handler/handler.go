package handler

import (
	"context"
	"log/slog"

	"github.com/genstudio/genstudio-be/internal/blobstore"
	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/internal/jobstore"
	"github.com/genstudio/genstudio-be/internal/lifecycle"
	"github.com/genstudio/genstudio-be/internal/notify"
)

// UserIDKey is the gin context key carrying the caller's user id, set
// by the identity middleware.
const UserIDKey = "user_id"

// Submitter is the lifecycle coordinator seam for the HTTP layer.
type Submitter interface {
	CheckBalance(ctx context.Context, userID, jobType string) error
	Submit(ctx context.Context, in lifecycle.SubmitInput) (*domain.Job, error)
	Cancel(ctx context.Context, jobID, userID string) (bool, error)
}

// JobReader reads job records, owner-scoped.
type JobReader interface {
	GetByID(ctx context.Context, jobID, userID string) (*domain.Job, error)
	ListForUser(ctx context.Context, filter jobstore.Filter) ([]domain.Job, error)
}

// MetadataReader reads the metadata side record.
type MetadataReader interface {
	Get(ctx context.Context, jobID string) (*domain.JobMetadata, error)
}

// CreditStore is the ledger seam for the HTTP layer.
type CreditStore interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error)
	Add(ctx context.Context, userID string, amount int, correlationID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Coordinator Submitter
	Jobs        JobReader
	Metadata    MetadataReader
	Credits     CreditStore
	Hub         *notify.Hub
	Blobs       blobstore.Store
}
