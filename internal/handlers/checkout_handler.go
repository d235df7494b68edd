package handlers

import (
	"net/http"

	"boxoffice/internal/services"
	"boxoffice/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Price - quote a cart; the internal audit ledger never leaves the server
func (h *CheckoutHandler) Price(e *core.RequestEvent) error {
	var req struct {
		EventID      string                   `json:"event_id"`
		Items        []models.ReservationItem `json:"items"`
		PromoCode    string                   `json:"promo_code"`
		PromoterCode string                   `json:"promoter_code"`
	}
	if err := e.BindBody(&req); err != nil || req.EventID == "" {
		return apis.NewBadRequestError("event_id and items are required", nil)
	}

	breakdown, err := h.checkout.Quote(e.Request.Context(), req.EventID, req.Items, services.CheckoutOptions{
		PromoCode:    req.PromoCode,
		PromoterCode: req.PromoterCode,
	})
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, breakdown.StripAudit())
}

// Checkout - convert a reservation into an order
func (h *CheckoutHandler) Checkout(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		ReservationID string `json:"reservation_id"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		Phone         string `json:"phone"`
		PromoCode     string `json:"promo_code"`
		PromoterCode  string `json:"promoter_code"`
	}
	if err := e.BindBody(&req); err != nil || req.ReservationID == "" {
		return apis.NewBadRequestError("reservation_id is required", nil)
	}

	buyer := models.Buyer{
		UserID: e.Auth.Id,
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
	}

	result, err := h.checkout.Checkout(e.Request.Context(), req.ReservationID, buyer, services.CheckoutOptions{
		PromoCode:    req.PromoCode,
		PromoterCode: req.PromoterCode,
	})
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, result)
}

// GetOrder - read an order
func (h *CheckoutHandler) GetOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	order, err := h.checkout.GetOrder(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}

	if order.Buyer.UserID != e.Auth.Id && !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	return e.JSON(http.StatusOK, order)
}
