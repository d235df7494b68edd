package handlers

import (
	"net/http"

	"boxoffice/internal/services"
	"boxoffice/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ScanHandler struct {
	scanner *services.ScannerService
}

func NewScanHandler(scanner *services.ScannerService) *ScanHandler {
	return &ScanHandler{scanner: scanner}
}

// scanHTTPStatus maps every scan result to its own status so door
// devices can branch on the code alone.
func scanHTTPStatus(result models.ScanResult) int {
	switch result {
	case models.ScanValid:
		return http.StatusOK
	case models.ScanAlreadyScanned:
		return http.StatusConflict
	case models.ScanInvalid:
		return http.StatusForbidden
	case models.ScanWrongEvent:
		return http.StatusUnprocessableEntity
	case models.ScanNotConfirmed:
		return http.StatusPaymentRequired
	case models.ScanNotFound:
		return http.StatusNotFound
	case models.ScanDeviceInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Scan - validate an admission credential at the door
func (h *ScanHandler) Scan(e *core.RequestEvent) error {
	var req services.ScanRequest
	if err := e.BindBody(&req); err != nil || req.Payload == "" {
		return apis.NewBadRequestError("payload is required", nil)
	}

	resp, err := h.scanner.Scan(e.Request.Context(), &req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(scanHTTPStatus(resp.Result), resp)
}

// Credentials - issue the signed QR payloads for an order's tickets
func (h *ScanHandler) Credentials(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orderID := e.Request.PathValue("id")

	order, err := h.scanner.Credentials(e.Request.Context(), orderID)
	if err != nil {
		return apiError(err)
	}

	if len(order) > 0 && order[0].BuyerID != e.Auth.Id && !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	type credential struct {
		TicketID string `json:"ticket_id"`
		QR       string `json:"qr"`
	}

	credentials := make([]credential, 0, len(order))
	for i := range order {
		credentials = append(credentials, credential{
			TicketID: order[i].TicketID,
			QR:       services.EncodePayload(&order[i]),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order_id":    orderID,
		"credentials": credentials,
	})
}
