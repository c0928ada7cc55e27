package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/genstudio-be/internal/domain"
)

type capturedUpdates struct {
	mu   sync.Mutex
	msgs []domain.UpdateMessage
}

func (c *capturedUpdates) Publish(_ context.Context, msg domain.UpdateMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturedUpdates) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Status
	}
	return out
}

func (c *capturedUpdates) last() domain.UpdateMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[len(c.msgs)-1]
}

type scriptedExecutor struct {
	mu       sync.Mutex
	failures int
	err      error
	attempts int
	block    bool
}

func (e *scriptedExecutor) Execute(ctx context.Context, entry domain.QueueEntry, report ProgressFunc) (*Result, error) {
	e.mu.Lock()
	e.attempts++
	attempt := e.attempts
	e.mu.Unlock()

	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	if attempt <= e.failures {
		return nil, errors.New("model backend unavailable")
	}

	report(50, "halfway")
	return &Result{
		Output:      json.RawMessage(`{"ok":true}`),
		OutputFiles: []domain.OutputFile{{Filename: "out.png", Key: "outputs/out.png"}},
	}, nil
}

func testWorker(updates UpdatePublisher, exec Executor) *Worker {
	return NewWorker(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Updates:  updates,
		Executor: exec,
	})
}

func queueEntry(maxAttempts int, timeout time.Duration) domain.QueueEntry {
	return domain.QueueEntry{
		JobID:   uuid.New().String(),
		JobType: domain.JobTypeImageGeneration,
		Payload: json.RawMessage(`{"type":"image-generation","params":{"prompt":"a cat"}}`),
		Policy: domain.QueuePolicy{
			MaxAttempts:    maxAttempts,
			BackoffType:    "constant",
			BackoffDelay:   time.Millisecond,
			AttemptTimeout: timeout,
		},
	}
}

func TestProcessEntrySuccess(t *testing.T) {
	updates := &capturedUpdates{}
	w := testWorker(updates, &scriptedExecutor{})

	err := w.processEntry(context.Background(), queueEntry(3, 0))
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.UpdateStatusProcessing,
		domain.UpdateStatusProgress,
		domain.UpdateStatusCompleted,
	}, updates.statuses())

	last := updates.last()
	assert.JSONEq(t, `{"ok":true}`, string(last.Result))
	require.Len(t, last.OutputFiles, 1)
}

func TestProcessEntryRetriesThenSucceeds(t *testing.T) {
	updates := &capturedUpdates{}
	exec := &scriptedExecutor{failures: 2}
	w := testWorker(updates, exec)

	err := w.processEntry(context.Background(), queueEntry(3, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, exec.attempts)
	assert.Equal(t, domain.UpdateStatusCompleted, updates.last().Status)
}

func TestProcessEntryExhaustsAttempts(t *testing.T) {
	updates := &capturedUpdates{}
	exec := &scriptedExecutor{failures: 10}
	w := testWorker(updates, exec)

	// Exhaustion is a terminal outcome, not a processing error; the
	// delivery is ACKed and the failure travels as an update.
	err := w.processEntry(context.Background(), queueEntry(2, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, exec.attempts)
	last := updates.last()
	assert.Equal(t, domain.UpdateStatusFailed, last.Status)
	assert.NotEmpty(t, last.Error)
}

func TestProcessEntryInvalidPayloadDoesNotRetry(t *testing.T) {
	updates := &capturedUpdates{}
	exec := &scriptedExecutor{err: domain.ErrInvalidPayload}
	w := testWorker(updates, exec)

	err := w.processEntry(context.Background(), queueEntry(3, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, exec.attempts)
	assert.Equal(t, domain.UpdateStatusFailed, updates.last().Status)
}

func TestProcessEntryAttemptTimeout(t *testing.T) {
	updates := &capturedUpdates{}
	exec := &scriptedExecutor{block: true}
	w := testWorker(updates, exec)

	err := w.processEntry(context.Background(), queueEntry(1, 20*time.Millisecond))
	require.NoError(t, err)

	last := updates.last()
	assert.Equal(t, domain.UpdateStatusFailed, last.Status)
	assert.Contains(t, last.Error, "timed out")
}

func TestProcessEntryShutdownRequeues(t *testing.T) {
	updates := &capturedUpdates{}
	exec := &scriptedExecutor{block: true}
	w := testWorker(updates, exec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := w.processEntry(ctx, queueEntry(3, time.Minute))
	require.Error(t, err)

	var retryable *domain.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.True(t, w.shouldRequeue(err))
}

func TestShouldRequeue(t *testing.T) {
	w := testWorker(&capturedUpdates{}, &scriptedExecutor{})

	assert.True(t, w.shouldRequeue(domain.NewRetryableError(errors.New("broker hiccup"))))
	assert.False(t, w.shouldRequeue(domain.ErrInvalidPayload))
	assert.False(t, w.shouldRequeue(domain.ErrUnknownJobType))
	assert.False(t, w.shouldRequeue(errors.New("something else")))
}
