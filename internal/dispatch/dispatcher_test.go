package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/genstudio-be/internal/config"
	"github.com/genstudio/genstudio-be/internal/domain"
)

type fakePublisher struct {
	published map[string][]byte
	err       error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][]byte)}
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, messageID string, body []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published[messageID] = body
	return nil
}

func testTable() *Table {
	return NewTableFromConfig(map[string]config.PolicyConfig{
		domain.JobTypeImageGeneration: {MaxAttempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second},
	})
}

func TestSubmit_PublishesEntryKeyedByJobID(t *testing.T) {
	pub := newFakePublisher()
	d := NewDispatcher(pub, testTable(), slog.Default())

	payload := json.RawMessage(`{"type":"image-generation","params":{"prompt":"a cat"}}`)
	err := d.Submit(context.Background(), "job-1", domain.JobTypeImageGeneration, payload)
	require.NoError(t, err)

	body, ok := pub.published["job-1"]
	require.True(t, ok, "message must be keyed by job id")

	var entry domain.QueueEntry
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, domain.JobTypeImageGeneration, entry.JobType)
	assert.Equal(t, 3, entry.Policy.MaxAttempts)
	assert.Equal(t, BackoffExponential, entry.Policy.BackoffType)
	assert.JSONEq(t, string(payload), string(entry.Payload))
}

func TestSubmit_UnknownJobType(t *testing.T) {
	d := NewDispatcher(newFakePublisher(), testTable(), slog.Default())

	err := d.Submit(context.Background(), "job-1", "no-such-type", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestSubmit_QueueUnavailable(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("connection refused")
	d := NewDispatcher(pub, testTable(), slog.Default())

	err := d.Submit(context.Background(), "job-1", domain.JobTypeImageGeneration, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}
