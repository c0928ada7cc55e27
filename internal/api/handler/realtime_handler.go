package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/api/dto"
	"github.com/genstudio/genstudio-be/internal/notify"
)

// RealtimeHandler serves the SSE stream and its subscription endpoints
type RealtimeHandler struct {
	logger *slog.Logger
	hub    *notify.Hub
}

// NewRealtimeHandler creates a new RealtimeHandler instance
func NewRealtimeHandler(deps *Dependencies) *RealtimeHandler {
	return &RealtimeHandler{
		logger: deps.Logger,
		hub:    deps.Hub,
	}
}

// Stream handles GET /api/v1/realtime
// Opens an SSE stream. The client id is delivered as the first event so
// the client can manage job subscriptions for this stream.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID := c.GetString(UserIDKey)

	client := h.hub.NewClient(userID)
	defer h.hub.CloseClient(client)

	h.logger.Info("Realtime stream opened",
		slog.String("client_id", client.ID),
		slog.String("user_id", userID),
	)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + client.ID + "\"}\n\n")
	c.Writer.Flush()

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.logger.Info("Realtime stream closed",
		slog.String("client_id", client.ID),
	)
}

// Subscribe handles POST /api/v1/realtime/subscribe
// Adds a job topic to one of the caller's open streams.
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	client, jobID, ok := h.bindSubscription(c)
	if !ok {
		return
	}

	h.hub.Subscribe(client, notify.JobTopic(jobID))
	c.JSON(http.StatusOK, gin.H{"subscribed": jobID})
}

// Unsubscribe handles POST /api/v1/realtime/unsubscribe
func (h *RealtimeHandler) Unsubscribe(c *gin.Context) {
	client, jobID, ok := h.bindSubscription(c)
	if !ok {
		return
	}

	h.hub.Unsubscribe(client, notify.JobTopic(jobID))
	c.JSON(http.StatusOK, gin.H{"unsubscribed": jobID})
}

func (h *RealtimeHandler) bindSubscription(c *gin.Context) (*notify.Client, string, bool) {
	var req dto.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id and job_id are required"})
		return nil, "", false
	}

	if _, err := uuid.Parse(req.JobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return nil, "", false
	}

	userID := c.GetString(UserIDKey)
	client, ok := h.hub.ClientByID(req.ClientID, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No such stream"})
		return nil, "", false
	}

	return client, req.JobID, true
}
