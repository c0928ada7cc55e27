package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/internal/jobstore"
	"github.com/genstudio/genstudio-be/internal/ledger/ledgertest"
)

type fakeRecords struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	byKey map[string]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{jobs: make(map[string]*domain.Job), byKey: make(map[string]string)}
}

func (f *fakeRecords) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.IdempotencyKey != "" {
		key := job.UserID + "|" + job.IdempotencyKey
		if _, exists := f.byKey[key]; exists {
			return &pq.Error{Code: "23505"}
		}
		f.byKey[key] = job.JobID
	}
	clone := *job
	f.jobs[job.JobID] = &clone
	return nil
}

func (f *fakeRecords) FindByIdempotencyKey(_ context.Context, userID, key string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobID, ok := f.byKey[userID+"|"+key]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	clone := *f.jobs[jobID]
	return &clone, nil
}

func (f *fakeRecords) OwnerOf(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	return job.UserID, nil
}

func (f *fakeRecords) StatusOf(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	return job.Status, nil
}

func (f *fakeRecords) UpdateStatus(_ context.Context, jobID string, from []string, newStatus string, fields jobstore.StatusFields) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if job.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	job.Status = newStatus
	job.UpdatedAt = time.Now().UTC()
	if len(fields.OutputData) > 0 {
		job.OutputData = fields.OutputData
	}
	if fields.ErrorMessage != "" {
		job.ErrorMessage = fields.ErrorMessage
	}
	if fields.Completed {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return true, nil
}

func (f *fakeRecords) CancelIfPending(_ context.Context, jobID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.UserID != userID || job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	return true, nil
}

func (f *fakeRecords) get(jobID string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		clone := *job
		return &clone
	}
	return nil
}

func (f *fakeRecords) put(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *job
	f.jobs[job.JobID] = &clone
}

type fakeMetadata struct {
	mu      sync.Mutex
	created map[string]*domain.JobMetadata
	steps   map[string][]domain.ProcessingStep
	outputs map[string][]domain.OutputFile
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		created: make(map[string]*domain.JobMetadata),
		steps:   make(map[string][]domain.ProcessingStep),
		outputs: make(map[string][]domain.OutputFile),
	}
}

func (f *fakeMetadata) Create(_ context.Context, meta *domain.JobMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[meta.JobID] = meta
	return nil
}

func (f *fakeMetadata) AppendStep(_ context.Context, jobID string, step domain.ProcessingStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[jobID] = append(f.steps[jobID], step)
	return nil
}

func (f *fakeMetadata) AddOutputFiles(_ context.Context, jobID string, files []domain.OutputFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[jobID] = append(f.outputs[jobID], files...)
	return nil
}

type queuedJob struct {
	jobID   string
	jobType string
	payload json.RawMessage
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []queuedJob
	err     error
}

func (f *fakeQueue) Submit(_ context.Context, jobID, jobType string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, queuedJob{jobID: jobID, jobType: jobType, payload: payload})
	return nil
}

type recordedEvent struct {
	kind     string
	userID   string
	jobID    string
	status   string
	progress int
	message  string
	result   json.RawMessage
	errMsg   string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) JobUpdate(userID, jobID, status, message string) {
	f.record(recordedEvent{kind: domain.EventKindUpdate, userID: userID, jobID: jobID, status: status, message: message})
}

func (f *fakeEvents) JobProgress(userID, jobID string, progress int, message string) {
	f.record(recordedEvent{kind: domain.EventKindProgress, userID: userID, jobID: jobID, progress: progress, message: message})
}

func (f *fakeEvents) JobComplete(userID, jobID string, result json.RawMessage) {
	f.record(recordedEvent{kind: domain.EventKindComplete, userID: userID, jobID: jobID, result: result})
}

func (f *fakeEvents) JobError(userID, jobID, errMsg string) {
	f.record(recordedEvent{kind: domain.EventKindError, userID: userID, jobID: jobID, errMsg: errMsg})
}

func (f *fakeEvents) record(e recordedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEvents) all() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEvent, len(f.events))
	copy(out, f.events)
	return out
}

type deductFailLedger struct {
	*ledgertest.Memory
	deductErr error
}

func (l *deductFailLedger) Deduct(_ context.Context, _ string, _ int, _ string) error {
	return l.deductErr
}

type harness struct {
	coord    *Coordinator
	ledger   *ledgertest.Memory
	records  *fakeRecords
	metadata *fakeMetadata
	queue    *fakeQueue
	events   *fakeEvents
}

func testCosts() map[string]int {
	return map[string]int{
		domain.JobTypeImageGeneration: 2,
		domain.JobTypeClothSwap:       3,
		domain.JobTypeStoryVideo:      10,
	}
}

func newHarness() *harness {
	h := &harness{
		ledger:   ledgertest.NewMemory(),
		records:  newFakeRecords(),
		metadata: newFakeMetadata(),
		queue:    &fakeQueue{},
		events:   &fakeEvents{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.coord = NewCoordinator(h.ledger, h.records, h.metadata, h.queue, h.events, testCosts(), logger)
	return h
}

func imagePayload() *domain.ImageGenerationPayload {
	p := &domain.ImageGenerationPayload{Prompt: "a lighthouse at dusk"}
	p.ApplyDefaults()
	return p
}

func TestSubmitHappyPath(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 10)

	job, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: imagePayload(),
	})
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.JobTypeImageGeneration, job.JobType)
	assert.Equal(t, 2, job.CreditsCharged)

	balance, err := h.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 8, balance)

	txns := h.ledger.Transactions("user-1")
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionKindDebit, txns[0].Kind)
	assert.Equal(t, -2, txns[0].Amount)
	assert.Equal(t, job.JobID, txns[0].CorrelationID)

	require.Len(t, h.queue.entries, 1)
	assert.Equal(t, job.JobID, h.queue.entries[0].jobID)
	assert.Equal(t, domain.JobTypeImageGeneration, h.queue.entries[0].jobType)

	require.NotNil(t, h.metadata.created[job.JobID])

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindUpdate, events[0].kind)
	assert.Equal(t, domain.JobStatusPending, events[0].status)
	assert.Equal(t, "user-1", events[0].userID)
}

func TestCheckBalance(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 2)

	require.NoError(t, h.coord.CheckBalance(context.Background(), "user-1", domain.JobTypeImageGeneration))

	err := h.coord.CheckBalance(context.Background(), "user-1", domain.JobTypeClothSwap)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = h.coord.CheckBalance(context.Background(), "user-1", "oil-painting")
	require.ErrorIs(t, err, domain.ErrUnknownJobType)

	// Purely advisory: nothing is recorded or charged.
	assert.Empty(t, h.records.jobs)
	balance, err := h.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)
}

func TestSubmitInsufficientBalance(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 1)

	job, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: imagePayload(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Nil(t, job)

	// Rejection leaves no trace anywhere.
	assert.Empty(t, h.records.jobs)
	assert.Empty(t, h.queue.entries)
	assert.Empty(t, h.events.all())

	balance, err := h.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestSubmitUnknownJobType(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 100)

	_, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: &domain.StudyAnimationPayload{Topic: "photosynthesis"},
	})
	require.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestSubmitInvalidPayload(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 100)

	_, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: &domain.ImageGenerationPayload{},
	})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Empty(t, h.records.jobs)
}

func TestSubmitQueueUnavailable(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 10)
	h.queue.err = domain.ErrQueueUnavailable

	job, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: imagePayload(),
	})
	require.ErrorIs(t, err, domain.ErrQueueUnavailable)
	assert.Nil(t, job)

	// No credits move and no pending record survives.
	balance, err := h.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	require.Len(t, h.records.jobs, 1)
	for _, stored := range h.records.jobs {
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
	}
	assert.Empty(t, h.events.all())
}

func TestSubmitDeductFailureCompensates(t *testing.T) {
	h := newHarness()
	ledger := &deductFailLedger{Memory: ledgertest.NewMemory(), deductErr: domain.ErrInsufficientBalance}
	ledger.Seed("user-1", 10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.coord = NewCoordinator(ledger, h.records, h.metadata, h.queue, h.events, testCosts(), logger)

	job, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:  "user-1",
		Payload: imagePayload(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.NotNil(t, job)

	assert.Equal(t, domain.JobStatusFailed, job.Status)
	stored := h.records.get(job.JobID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindError, events[0].kind)
}

func TestSubmitIdempotencyKeyReplay(t *testing.T) {
	h := newHarness()
	h.ledger.Seed("user-1", 10)

	first, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:         "user-1",
		Payload:        imagePayload(),
		IdempotencyKey: "req-42",
	})
	require.NoError(t, err)

	second, err := h.coord.Submit(context.Background(), SubmitInput{
		UserID:         "user-1",
		Payload:        imagePayload(),
		IdempotencyKey: "req-42",
	})
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)

	// Replays charge nothing and enqueue nothing.
	assert.Len(t, h.queue.entries, 1)
	balance, err := h.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 8, balance)
}

func pendingJob(h *harness, jobID, userID string) {
	now := time.Now().UTC()
	h.records.put(&domain.Job{
		JobID:     jobID,
		UserID:    userID,
		JobType:   domain.JobTypeImageGeneration,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func TestApplyUpdateProcessing(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:  "job-1",
		Status: domain.UpdateStatusProcessing,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusProcessing, h.records.get("job-1").Status)
	require.Len(t, h.metadata.steps["job-1"], 1)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindUpdate, events[0].kind)
	assert.Equal(t, domain.JobStatusProcessing, events[0].status)
	assert.Equal(t, "user-1", events[0].userID)
}

func TestApplyUpdateProgress(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:    "job-1",
		Status:   domain.UpdateStatusProgress,
		Progress: 40,
		Message:  "rendering",
	})
	require.NoError(t, err)

	// Progress reports do not touch the job record.
	assert.Equal(t, domain.JobStatusPending, h.records.get("job-1").Status)
	require.Len(t, h.metadata.steps["job-1"], 1)
	assert.Equal(t, 40, h.metadata.steps["job-1"][0].Progress)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindProgress, events[0].kind)
	assert.Equal(t, 40, events[0].progress)
}

func TestApplyUpdateCompleted(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	result := json.RawMessage(`{"images":["out.png"]}`)
	err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:       "job-1",
		Status:      domain.UpdateStatusCompleted,
		Result:      result,
		OutputFiles: []domain.OutputFile{{Filename: "out.png", Key: "outputs/user-1/out.png"}},
	})
	require.NoError(t, err)

	stored := h.records.get("job-1")
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.JSONEq(t, string(result), string(stored.OutputData))
	require.NotNil(t, stored.CompletedAt)

	require.Len(t, h.metadata.outputs["job-1"], 1)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindComplete, events[0].kind)
	assert.JSONEq(t, string(result), string(events[0].result))
}

func TestApplyUpdateFailedDefaultsMessage(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:  "job-1",
		Status: domain.UpdateStatusFailed,
	})
	require.NoError(t, err)

	stored := h.records.get("job-1")
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "Job failed", stored.ErrorMessage)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventKindError, events[0].kind)
	assert.Equal(t, "Job failed", events[0].errMsg)
}

func TestApplyUpdateStaleAfterTerminal(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	require.NoError(t, h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:  "job-1",
		Status: domain.UpdateStatusCompleted,
	}))
	before := len(h.events.all())

	for _, status := range []string{
		domain.UpdateStatusProcessing,
		domain.UpdateStatusProgress,
		domain.UpdateStatusCompleted,
		domain.UpdateStatusFailed,
	} {
		err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
			JobID:  "job-1",
			Status: status,
		})
		assert.ErrorIs(t, err, domain.ErrStaleUpdate, "status %s", status)
	}

	// Stale updates deliver nothing.
	assert.Len(t, h.events.all(), before)
	assert.Equal(t, domain.JobStatusCompleted, h.records.get("job-1").Status)
}

func TestApplyUpdateUnknownJob(t *testing.T) {
	h := newHarness()

	err := h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:  "no-such-job",
		Status: domain.UpdateStatusProcessing,
	})
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.Empty(t, h.events.all())
}

func TestCancel(t *testing.T) {
	h := newHarness()
	pendingJob(h, "job-1", "user-1")

	ok, err := h.coord.Cancel(context.Background(), "job-1", "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.JobStatusCancelled, h.records.get("job-1").Status)

	// The cancel window closes once a worker reports processing.
	pendingJob(h, "job-2", "user-1")
	require.NoError(t, h.coord.ApplyUpdate(context.Background(), domain.UpdateMessage{
		JobID:  "job-2",
		Status: domain.UpdateStatusProcessing,
	}))
	ok, err = h.coord.Cancel(context.Background(), "job-2", "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Ownership is enforced.
	pendingJob(h, "job-3", "user-1")
	ok, err = h.coord.Cancel(context.Background(), "job-3", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
}
