// Package notify fans worker lifecycle events out to subscribed
// realtime clients. Delivery is best effort: a slow client loses
// events rather than slowing anyone else down, and clients are
// expected to re-fetch authoritative state from the job record store.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// UserTopic names the per-user event topic.
func UserTopic(userID string) string { return "user:" + userID }

// JobTopic names the per-job event topic.
func JobTopic(jobID string) string { return "job:" + jobID }

// Client is one connected realtime stream. Outbound is buffered; the
// hub never blocks on it.
type Client struct {
	ID       string
	UserID   string
	topics   map[string]bool
	Outbound chan domain.ClientEvent
	done     chan struct{}
}

// Hub routes events to clients by topic subscription.
type Hub struct {
	mu            sync.RWMutex
	logger        *slog.Logger
	subscriptions map[string]map[*Client]bool
	clients       map[string]*Client
	clientBuffer  int
	heartbeat     time.Duration
}

// Options tune the hub's delivery behavior.
type Options struct {
	ClientBuffer      int
	HeartbeatInterval time.Duration
}

// NewHub creates a new Hub
func NewHub(opts Options, logger *slog.Logger) *Hub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 16
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Hub{
		logger:        logger.With(slog.String("component", "notify-hub")),
		subscriptions: make(map[string]map[*Client]bool),
		clients:       make(map[string]*Client),
		clientBuffer:  opts.ClientBuffer,
		heartbeat:     opts.HeartbeatInterval,
	}
}

// NewClient registers a stream for the user. Every client starts
// subscribed to its own user topic; job topics are opt-in.
func (h *Hub) NewClient(userID string) *Client {
	client := &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		topics:   make(map[string]bool),
		Outbound: make(chan domain.ClientEvent, h.clientBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.Subscribe(client, UserTopic(userID))
	return client
}

// ClientByID resolves a connected client by its stream id, scoped to
// the owning user.
func (h *Hub) ClientByID(clientID, userID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok || client.UserID != userID {
		return nil, false
	}
	return client, true
}

// Subscribe adds the client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client.topics[topic] = true
	clients, exists := h.subscriptions[topic]
	if !exists {
		clients = make(map[*Client]bool)
		h.subscriptions[topic] = clients
	}
	clients[client] = true

	h.logger.Debug("Client subscribed",
		slog.String("client_id", client.ID),
		slog.String("topic", topic),
	)
}

// Unsubscribe removes the client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.topics, topic)
	if subs, ok := h.subscriptions[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, topic)
		}
	}
}

// CloseClient removes the client from every topic and releases its
// stream.
func (h *Hub) CloseClient(client *Client) {
	h.mu.Lock()
	for topic := range client.topics {
		if subs, ok := h.subscriptions[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, topic)
			}
		}
	}
	client.topics = make(map[string]bool)
	delete(h.clients, client.ID)
	h.mu.Unlock()

	close(client.done)
}

// Broadcast delivers the event to every client subscribed to at least
// one of the topics, once per client. Full buffers drop the event.
func (h *Hub) Broadcast(event domain.ClientEvent, topics ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Client]bool)
	for _, topic := range topics {
		for client := range h.subscriptions[topic] {
			if delivered[client] {
				continue
			}
			delivered[client] = true
			select {
			case client.Outbound <- event:
			default:
				h.logger.Warn("Dropping event, client buffer full",
					slog.String("client_id", client.ID),
					slog.String("kind", event.Kind),
				)
			}
		}
	}
}

// JobUpdate emits a status change to the job's owner and watchers.
func (h *Hub) JobUpdate(userID, jobID, status, message string) {
	h.Broadcast(domain.ClientEvent{
		Kind:      domain.EventKindUpdate,
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, UserTopic(userID), JobTopic(jobID))
}

// JobProgress emits a progress report without a status change.
func (h *Hub) JobProgress(userID, jobID string, progress int, message string) {
	h.Broadcast(domain.ClientEvent{
		Kind:      domain.EventKindProgress,
		JobID:     jobID,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, UserTopic(userID), JobTopic(jobID))
}

// JobComplete emits the terminal success event with the result document.
func (h *Hub) JobComplete(userID, jobID string, result json.RawMessage) {
	h.Broadcast(domain.ClientEvent{
		Kind:      domain.EventKindComplete,
		JobID:     jobID,
		Status:    domain.JobStatusCompleted,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}, UserTopic(userID), JobTopic(jobID))
}

// JobError emits the terminal failure event.
func (h *Hub) JobError(userID, jobID, errMsg string) {
	h.Broadcast(domain.ClientEvent{
		Kind:      domain.EventKindError,
		JobID:     jobID,
		Status:    domain.JobStatusFailed,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}, UserTopic(userID), JobTopic(jobID))
}

// CreditsUpdate pushes the user's new balance to their own streams only.
func (h *Hub) CreditsUpdate(userID string, credits int) {
	h.Broadcast(domain.ClientEvent{
		Kind:      domain.EventKindCredits,
		Credits:   &credits,
		Timestamp: time.Now().UTC(),
	}, UserTopic(userID))
}

// ServeHTTP streams the client's events as server-sent events until the
// request context ends or the client is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-client.Outbound:
			body, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("Failed to marshal event", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, body)
			flusher.Flush()
		}
	}
}
