package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment gateway backend.
type Provider string

const (
	ProviderFlexpay Provider = "flexpay"
	ProviderSandbox Provider = "sandbox"
)

type Config struct {
	BaseURL       string `json:"baseUrl" mapstructure:"base_url"`
	KeyID         string `json:"keyId" mapstructure:"key_id"`
	KeySecret     string `json:"keySecret" mapstructure:"key_secret"`
	WebhookSecret string `json:"webhookSecret" mapstructure:"webhook_secret"`

	NotifySubKey  string `json:"notifySubKey" mapstructure:"notify_subkey"`
	NotifyChannel string `json:"notifyChannel" mapstructure:"notify_channel"`
	NotifyUUID    string `json:"notifyUuid" mapstructure:"notify_uuid"`
}

// IntentRequest asks the gateway to prepare a payment sized to an order.
type IntentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ReceiptRef string          `json:"receipt_ref"`
}

// Intent is the gateway-side payment handle an order waits on.
type Intent struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ReceiptRef string          `json:"receipt_ref"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Capture is an asynchronous payment-captured notification pushed by the
// gateway over its notification channel.
type Capture struct {
	IntentID   string          `json:"intent_id"`
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	ReceiptRef string          `json:"receipt_ref"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Gateway is the common interface all payment providers implement.
type Gateway interface {
	// Provider returns the backend type.
	Provider() Provider

	// CreateIntent registers a payment intent for the exact amount.
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)

	// VerifyPaymentSignature checks a client-supplied confirmation proof.
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool

	// VerifyWebhookSignature checks the signature over raw webhook bytes.
	VerifyWebhookSignature(body []byte, signature string) bool

	// SetCaptureChannel sets the channel for async capture notifications.
	SetCaptureChannel(ch chan *Capture)

	// Close gracefully closes any connections.
	Close(ctx context.Context) error
}

// New creates a gateway instance for the given provider.
func New(ctx context.Context, provider Provider, cfg *Config) (Gateway, error) {
	switch provider {
	case ProviderFlexpay:
		return newFlexpay(ctx, cfg)

	case ProviderSandbox:
		return newSandbox(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported gateway provider: %s", provider)
	}
}
