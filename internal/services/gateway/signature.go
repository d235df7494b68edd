package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hmac256 is a function to generate HMAC256 hash.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// SignPayment computes the confirmation proof the gateway hands to the
// client after a successful payment: an HMAC over the gateway order id
// and the payment id joined by "|".
func SignPayment(gatewayOrderID, paymentID string, secret []byte) string {
	return Hmac256([]byte(gatewayOrderID+"|"+paymentID), secret)
}

// VerifyPayment recomputes the expected payment proof and compares it to
// the supplied signature in constant time.
func VerifyPayment(gatewayOrderID, paymentID, signature string, secret []byte) bool {
	expected := SignPayment(gatewayOrderID, paymentID, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyWebhook checks the separately-keyed signature computed over the
// exact raw request body bytes. The body must not be re-serialized before
// verification.
func VerifyWebhook(body []byte, signature string, secret []byte) bool {
	expected := Hmac256(body, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// WebhookEvent is the envelope the gateway posts to the webhook endpoint.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			ID         string `json:"id"`
			IntentID   string `json:"order_id"`
			ReceiptRef string `json:"receipt"`
			Amount     int64  `json:"amount"`
			Currency   string `json:"currency"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhook decodes a verified webhook body. Verification must happen
// on the raw bytes before this is called.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("gateway: parse webhook: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("gateway: parse webhook: missing event type")
	}
	return &event, nil
}
