package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.entry.JobID),
				slog.String("job_type", msg.entry.JobType),
			)

			err := w.processEntry(ctx, msg.entry)
			w.settle(msg, err, workerName)
		}
	}
}

// settle ACKs or NACKs the delivery based on the processing result
func (w *Worker) settle(msg *entryMessage, err error, workerName string) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("No channel available for ACK/NACK",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.entry.JobID),
		)
		return
	}

	if err != nil {
		w.logger.Error("Job processing failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.entry.JobID),
			slog.String("error", err.Error()),
		)

		requeue := w.shouldRequeue(err)
		if nackErr := channel.Nack(msg.deliveryTag, false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.entry.JobID),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := channel.Ack(msg.deliveryTag, false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.entry.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeue decides redelivery. Only transient infrastructure
// failures go back to the queue; a job that exhausted its attempts is
// terminal and has already been reported as failed.
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrUnknownJobType) {
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
