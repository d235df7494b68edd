package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPayment(t *testing.T) {
	secret := []byte("test-key-secret")

	sig := SignPayment("GW-123", "PAY-456", secret)

	assert.True(t, VerifyPayment("GW-123", "PAY-456", sig, secret))

	// forged or mismatched inputs must fail
	assert.False(t, VerifyPayment("GW-123", "PAY-456", sig, []byte("wrong-secret")))
	assert.False(t, VerifyPayment("GW-999", "PAY-456", sig, secret))
	assert.False(t, VerifyPayment("GW-123", "PAY-999", sig, secret))
	assert.False(t, VerifyPayment("GW-123", "PAY-456", "deadbeef", secret))
}

func TestVerifyWebhookRawBody(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"id":"PAY-1","order_id":"GW-1","receipt":"ORD-1","amount":15000,"currency":"LAK"}},"created_at":1756700000}`)

	sig := Hmac256(body, secret)
	assert.True(t, VerifyWebhook(body, sig, secret))

	// any byte-level change to the body invalidates the signature
	mutated := append([]byte{}, body...)
	mutated[10] ^= 0x01
	assert.False(t, VerifyWebhook(mutated, sig, secret))

	// payment proof secret must not verify webhooks
	assert.False(t, VerifyWebhook(body, Hmac256(body, []byte("test-key-secret")), secret))
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"id":"PAY-1","order_id":"GW-1","receipt":"ORD-1","amount":15000,"currency":"LAK"}},"created_at":1756700000}`)

	event, err := ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "payment.captured", event.Event)
	assert.Equal(t, "PAY-1", event.Payload.Payment.ID)
	assert.Equal(t, "GW-1", event.Payload.Payment.IntentID)
	assert.Equal(t, "ORD-1", event.Payload.Payment.ReceiptRef)
	assert.Equal(t, int64(15000), event.Payload.Payment.Amount)

	_, err = ParseWebhook([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestSandboxCaptureFlow(t *testing.T) {
	sb := newSandbox(&Config{KeySecret: "k", WebhookSecret: "w"})

	intent, err := sb.CreateIntent(context.Background(), &IntentRequest{
		Amount:     decimal.NewFromInt(150),
		Currency:   "LAK",
		ReceiptRef: "ORD-1",
	})
	require.NoError(t, err)

	ch := make(chan *Capture, 1)
	sb.SetCaptureChannel(ch)

	paymentID, sig, err := sb.Capture(intent.ID)
	require.NoError(t, err)
	assert.True(t, sb.VerifyPaymentSignature(intent.ID, paymentID, sig))

	capture := <-ch
	assert.Equal(t, intent.ID, capture.IntentID)
	assert.Equal(t, paymentID, capture.PaymentID)
	assert.Equal(t, "ORD-1", capture.ReceiptRef)
}
