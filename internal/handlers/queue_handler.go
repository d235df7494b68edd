package handlers

import (
	"net/http"

	"boxoffice/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type QueueHandler struct {
	queue *services.QueueService
}

func NewQueueHandler(queue *services.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Join - enter the waiting room for an event
func (h *QueueHandler) Join(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID   string `json:"event_id"`
		Lane      string `json:"lane"`
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" || req.SessionID == "" {
		return apis.NewBadRequestError("event_id and session_id are required", nil)
	}

	ticket, err := h.queue.Join(e.Request.Context(), req.EventID, e.Auth.Id, req.Lane, req.SessionID)
	if err != nil {
		return apis.NewBadRequestError("Could not join the queue", nil)
	}

	return e.JSON(http.StatusOK, ticket)
}

// Status - current position or admission token
func (h *QueueHandler) Status(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.URL.Query().Get("event_id")
	if eventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	ticket, err := h.queue.Status(e.Request.Context(), eventID, e.Auth.Id)
	if err == redis.Nil {
		return apis.NewNotFoundError("Not in queue", nil)
	} else if err != nil {
		return apis.NewApiError(500, "Queue unavailable", nil)
	}

	return e.JSON(http.StatusOK, ticket)
}

// Heartbeat - keep an admitted session alive
func (h *QueueHandler) Heartbeat(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	if err := h.queue.Heartbeat(e.Request.Context(), req.EventID, e.Auth.Id); err == redis.Nil {
		return apis.NewNotFoundError("Not in queue", nil)
	} else if err != nil {
		return apis.NewApiError(500, "Queue unavailable", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"ok": true})
}

// Leave - abandon the queue place
func (h *QueueHandler) Leave(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	if err := h.queue.Leave(e.Request.Context(), req.EventID, e.Auth.Id); err != nil {
		return apis.NewApiError(500, "Queue unavailable", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"ok": true})
}
