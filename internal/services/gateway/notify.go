package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
)

// captureSubscription listens on the gateway's PubNub notify channel for
// asynchronous payment-captured events and forwards them as Captures.
type captureSubscription struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener
	ch  chan *Capture
}

type capturePayload struct {
	IntentID   string          `json:"order_id"`
	PaymentID  string          `json:"payment_id"`
	ReceiptRef string          `json:"receipt"`
	Amount     decimal.Decimal `json:"amount"`
	CapturedAt string          `json:"captured_at"`
}

func newCaptureSubscription(ctx context.Context, cfg *Config) (*captureSubscription, error) {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.NotifyUUID))
	pnCfg.SubscribeKey = cfg.NotifySubKey

	sub := &captureSubscription{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
	}
	sub.pn.AddListener(sub.lis)

	go sub.processSubscription(ctx)

	sub.pn.Subscribe().Channels([]string{cfg.NotifyChannel}).Execute()

	return sub, nil
}

func (s *captureSubscription) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-s.lis.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("gateway notify: connected to pubnub")

			case pubnub.PNReconnectedCategory:
				slog.Info("gateway notify: reconnected to pubnub")

			case pubnub.PNDisconnectedCategory:
				slog.Warn("gateway notify: disconnected from pubnub")

			case pubnub.PNAccessDeniedCategory:
				slog.Error("gateway notify: access denied")

			case pubnub.PNTimeoutCategory:
				slog.Warn("gateway notify: timeout")

			default:
				slog.Debug("gateway notify: status", "category", st.Category)
			}

		case message := <-s.lis.Message:
			raw, ok := message.Message.(string)
			if !ok {
				slog.Warn("gateway notify: unexpected message type")
				continue
			}

			var p capturePayload
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&p); err != nil {
				slog.Error("gateway notify: decode", "error", err)
				continue
			}

			capture, err := p.toDomain()
			if err != nil {
				slog.Error("gateway notify: to domain", "error", err)
				continue
			}

			if s.ch != nil {
				s.ch <- capture
			}

		case <-ctx.Done():
			slog.Info("gateway notify: close subscribe")
			return
		}
	}
}

func (p *capturePayload) toDomain() (*Capture, error) {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.CapturedAt, time.Local)
	if err != nil {
		return nil, err
	}

	return &Capture{
		IntentID:   p.IntentID,
		PaymentID:  p.PaymentID,
		Amount:     p.Amount,
		ReceiptRef: p.ReceiptRef,
		CapturedAt: ts,
	}, nil
}

func (s *captureSubscription) close() {
	s.pn.UnsubscribeAll()
}
