package gateway

import (
	"context"
	"sync"
	"time"

	"boxoffice/utils"
)

// sandbox is an in-process gateway for development and tests. Intents
// are held in memory and signatures use the configured secrets, so the
// full confirmation flow can be exercised without a real backend.
type sandbox struct {
	keySecret     string
	webhookSecret string

	mu      sync.Mutex
	intents map[string]*Intent
	ch      chan *Capture
}

func newSandbox(cfg *Config) *sandbox {
	return &sandbox{
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		intents:       make(map[string]*Intent),
	}
}

func (s *sandbox) Provider() Provider { return ProviderSandbox }

func (s *sandbox) CreateIntent(ctx context.Context, ir *IntentRequest) (*Intent, error) {
	id, err := utils.GenerateCode(12)
	if err != nil {
		return nil, err
	}

	intent := &Intent{
		ID:         "SBX-" + id,
		Amount:     ir.Amount,
		Currency:   ir.Currency,
		ReceiptRef: ir.ReceiptRef,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.intents[intent.ID] = intent
	s.mu.Unlock()

	return intent, nil
}

func (s *sandbox) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifyPayment(gatewayOrderID, paymentID, signature, []byte(s.keySecret))
}

func (s *sandbox) VerifyWebhookSignature(body []byte, signature string) bool {
	return VerifyWebhook(body, signature, []byte(s.webhookSecret))
}

func (s *sandbox) SetCaptureChannel(ch chan *Capture) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

// Capture simulates the backend capturing a payment: it signs the proof
// and pushes an async notification to the capture channel.
func (s *sandbox) Capture(intentID string) (paymentID, signature string, err error) {
	pid, err := utils.GenerateCode(10)
	if err != nil {
		return "", "", err
	}
	paymentID = "PAY-" + pid
	signature = SignPayment(intentID, paymentID, []byte(s.keySecret))

	s.mu.Lock()
	intent, ok := s.intents[intentID]
	ch := s.ch
	s.mu.Unlock()

	if ok && ch != nil {
		ch <- &Capture{
			IntentID:   intentID,
			PaymentID:  paymentID,
			Amount:     intent.Amount,
			ReceiptRef: intent.ReceiptRef,
			CapturedAt: time.Now(),
		}
	}

	return paymentID, signature, nil
}

func (s *sandbox) Close(ctx context.Context) error { return nil }
