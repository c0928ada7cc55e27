package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// Updater applies one worker update to the authoritative records.
type Updater interface {
	ApplyUpdate(ctx context.Context, msg domain.UpdateMessage) error
}

// Source delivers decoded update messages until its context ends.
type Source interface {
	StartForwarder(ctx context.Context, onMsg func(msg domain.UpdateMessage)) error
}

// Listener bridges the shared update channel into the lifecycle
// coordinator. It runs in every API process; the hub behind the
// coordinator only reaches clients connected to this process.
type Listener struct {
	source  Source
	updater Updater
	logger  *slog.Logger
}

// NewListener creates a new Listener
func NewListener(source Source, updater Updater, logger *slog.Logger) *Listener {
	return &Listener{
		source:  source,
		updater: updater,
		logger:  logger.With(slog.String("component", "update-listener")),
	}
}

// Start subscribes to the update channel and applies messages as they
// arrive. It returns once the subscription is established.
func (l *Listener) Start(ctx context.Context) error {
	return l.source.StartForwarder(ctx, func(msg domain.UpdateMessage) {
		l.handle(ctx, msg)
	})
}

func (l *Listener) handle(ctx context.Context, msg domain.UpdateMessage) {
	if msg.JobID == "" {
		l.logger.Warn("Dropping update message without job id",
			slog.String("status", msg.Status),
		)
		return
	}

	err := l.updater.ApplyUpdate(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		// An update for a job this store never saw is a bug upstream,
		// not a transient condition.
		l.logger.Warn("Dropping update for unknown job",
			slog.String("job_id", msg.JobID),
			slog.String("status", msg.Status),
		)
	case errors.Is(err, domain.ErrStaleUpdate):
		l.logger.Debug("Ignoring stale update for terminal job",
			slog.String("job_id", msg.JobID),
			slog.String("status", msg.Status),
		)
	default:
		l.logger.Error("Failed to apply update message",
			slog.String("job_id", msg.JobID),
			slog.String("status", msg.Status),
			slog.Any("error", err),
		)
	}
}
