package handlers

import (
	"fmt"
	"net/http"

	"boxoffice/internal/services"
	"boxoffice/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ReservationHandler struct {
	app          core.App
	reservations *services.ReservationService
	queue        *services.QueueService
}

func NewReservationHandler(app core.App, reservations *services.ReservationService, queue *services.QueueService) *ReservationHandler {
	return &ReservationHandler{app: app, reservations: reservations, queue: queue}
}

// Create - lock inventory for a cart. Events running a waiting room
// require a single-use admission token issued by the queue.
func (h *ReservationHandler) Create(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID        string                   `json:"event_id"`
		DeviceID       string                   `json:"device_id"`
		Items          []models.ReservationItem `json:"items"`
		AdmissionToken string                   `json:"admission_token"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" {
		return apis.NewBadRequestError("event_id and items are required", nil)
	}

	event, err := h.app.FindRecordById("events", req.EventID)
	if err != nil {
		return apis.NewNotFoundError("Event not found", nil)
	}

	// admit_capacity > 0 means the waiting room gates this event
	if event.GetInt("admit_capacity") > 0 {
		if req.AdmissionToken == "" {
			return apis.NewForbiddenError("Join the queue before reserving", map[string]any{"code": "QUEUE_REQUIRED"})
		}

		binding, err := h.queue.ConsumeAdmission(e.Request.Context(), req.AdmissionToken)
		if err != nil || binding != fmt.Sprintf("%s:%s", req.EventID, e.Auth.Id) {
			return apis.NewForbiddenError("Admission token is invalid or expired", map[string]any{"code": "NOT_ADMITTED"})
		}
	}

	reservation, err := h.reservations.Reserve(e.Request.Context(), req.EventID, e.Auth.Id, req.DeviceID, req.Items)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"reservation_id": reservation.ID,
		"expires_at":     reservation.ExpiresAt,
		"items":          reservation.Items,
	})
}

// Get - read a reservation
func (h *ReservationHandler) Get(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reservation, err := h.reservations.GetReservation(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}

	if reservation.UserID != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}

	return e.JSON(http.StatusOK, reservation)
}
