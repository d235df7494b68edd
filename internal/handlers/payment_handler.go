package handlers

import (
	"io"
	"net/http"

	"boxoffice/internal/services"
	"boxoffice/internal/services/gateway"
	"boxoffice/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type PaymentHandler struct {
	checkout *services.CheckoutService
	gateway  gateway.Gateway
}

func NewPaymentHandler(checkout *services.CheckoutService, gw gateway.Gateway) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, gateway: gw}
}

// Confirm - client pull confirmation with the gateway's HMAC proof
func (h *PaymentHandler) Confirm(e *core.RequestEvent) error {
	var req struct {
		OrderID        string `json:"order_id"`
		PaymentID      string `json:"payment_id"`
		Signature      string `json:"signature"`
		GatewayOrderID string `json:"gateway_order_id"`
	}
	if err := e.BindBody(&req); err != nil || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return apis.NewBadRequestError("order_id, payment_id and signature are required", nil)
	}

	order, err := h.checkout.ConfirmPayment(e.Request.Context(), req.OrderID, req.PaymentID, req.Signature, req.GatewayOrderID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"order": order})
}

// Webhook - gateway push confirmation. The signature is verified over
// the exact raw body bytes before anything inside is trusted.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("Unreadable body", nil)
	}

	signature := e.Request.Header.Get("X-Gateway-Signature")
	if signature == "" || !h.gateway.VerifyWebhookSignature(body, signature) {
		return apis.NewForbiddenError("Invalid webhook signature", nil)
	}

	order, err := h.checkout.ProcessWebhook(e.Request.Context(), body)
	if err != nil {
		// the receiver is idempotent: a recognized event whose order is
		// already settled still gets a 200 so the gateway stops retrying
		if status.Is(err, status.CodeOrderNotFound) {
			return apis.NewNotFoundError("Order not found", nil)
		}
		return apiError(err)
	}

	if order == nil {
		return e.JSON(http.StatusOK, map[string]any{"status": "ignored"})
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "processed", "order_id": order.ID})
}
