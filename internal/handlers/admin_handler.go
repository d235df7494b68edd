package handlers

import (
	"net/http"

	"boxoffice/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	queue *services.QueueService
}

func NewAdminHandler(queue *services.QueueService) *AdminHandler {
	return &AdminHandler{queue: queue}
}

func requireSuperuser(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Admins only", nil)
	}
	return nil
}

// QueueDashboard - live queue numbers for one event
func (h *AdminHandler) QueueDashboard(e *core.RequestEvent) error {
	if err := requireSuperuser(e); err != nil {
		return err
	}

	eventID := e.Request.URL.Query().Get("event_id")
	if eventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	metrics, err := h.queue.Metrics(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewApiError(500, "Queue unavailable", nil)
	}

	return e.JSON(http.StatusOK, metrics)
}

// RemoveFromQueue - force a user out of the queue
func (h *AdminHandler) RemoveFromQueue(e *core.RequestEvent) error {
	if err := requireSuperuser(e); err != nil {
		return err
	}

	var req struct {
		EventID string `json:"event_id"`
		UserID  string `json:"user_id"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" || req.UserID == "" {
		return apis.NewBadRequestError("event_id and user_id are required", nil)
	}

	if err := h.queue.Leave(e.Request.Context(), req.EventID, req.UserID); err != nil {
		return apis.NewApiError(500, "Queue unavailable", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"ok": true})
}
