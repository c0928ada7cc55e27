// Package worker consumes queued generation jobs and executes them.
// Retry attempts, backoff, and attempt timeouts follow the policy
// carried in each queue entry; the generation step itself is opaque
// behind the Executor interface.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/shared/rabbitmq"
)

// UpdatePublisher sends status updates onto the shared update channel.
type UpdatePublisher interface {
	Publish(ctx context.Context, msg domain.UpdateMessage) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Updates       UpdatePublisher
	Executor      Executor
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// entryMessage pairs a decoded queue entry with its delivery tag for
// the eventual ACK/NACK.
type entryMessage struct {
	entry       domain.QueueEntry
	deliveryTag uint64
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	updates       UpdatePublisher
	executor      Executor
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	jobsChan      chan *entryMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		updates:       cfg.Updates,
		executor:      cfg.Executor,
		workerID:      "worker-" + uuid.New().String()[:8],
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    jobTimeout,
		jobsChan:      make(chan *entryMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until ctx ends.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
