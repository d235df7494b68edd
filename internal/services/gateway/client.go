package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"boxoffice/utils"

	"github.com/shopspring/decimal"
)

// flexpay talks to the Flexpay REST backend. Request bodies are HMAC
// signed with the key secret; authentication uses a short-lived access
// token renewed by a background refresher.
type flexpay struct {
	baseURL   string
	keyID     string
	keySecret string

	webhookSecret string

	// accessToken is used to authenticate with the Flexpay backend.
	accessToken string

	// mu is used to lock access token.
	mu sync.Mutex

	// toggleTokenRefresher is used to notify token refresher to refresh token.
	toggleTokenRefresher chan struct{}

	// breaker fails fast while the gateway is unhealthy.
	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client

	notify *captureSubscription
}

func newFlexpay(ctx context.Context, cfg *Config) (*flexpay, error) {
	f := &flexpay{
		baseURL:       cfg.BaseURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		breaker: utils.NewCircuitBreaker("flexpay"),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	token, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	f.setAccessToken(token)

	go f.notifyAccessTokenExpired(ctx)

	if cfg.NotifySubKey != "" {
		sub, err := newCaptureSubscription(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("flexpay: capture subscription: %w", err)
		}
		f.notify = sub
	}

	return f, nil
}

func (f *flexpay) Provider() Provider { return ProviderFlexpay }

func (f *flexpay) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifyPayment(gatewayOrderID, paymentID, signature, []byte(f.keySecret))
}

func (f *flexpay) VerifyWebhookSignature(body []byte, signature string) bool {
	return VerifyWebhook(body, signature, []byte(f.webhookSecret))
}

func (f *flexpay) SetCaptureChannel(ch chan *Capture) {
	if f.notify != nil {
		f.notify.ch = ch
	}
}

func (f *flexpay) Close(ctx context.Context) error {
	if f.notify != nil {
		f.notify.close()
	}
	f.hc.CloseIdleConnections()
	return nil
}

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from the Flexpay backend with
// exponential backOff strategy.
func (f *flexpay) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-f.toggleTokenRefresher:
			slog.Info("flexpay: token refresh requested")
		}

		// reconnect with exponential backOff strategy
		backOff := time.Second

	Retry:
		for {
			token, err := f.connect(ctx)
			switch err {
			case nil:
				f.setAccessToken(token)

				break Retry

			default:
				slog.Error("flexpay: reconnect", "error", err)

				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

// setAccessToken set access token to client.
func (f *flexpay) setAccessToken(accessToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessToken = accessToken
}

// getAccessToken get access token from client.
func (f *flexpay) getAccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken
}

// connect makes http call to perform authentication with the Flexpay backend.
func (f *flexpay) connect(ctx context.Context) (string, error) {
	requestID, err := utils.GenerateCode(8)
	if err != nil {
		return "", fmt.Errorf("connectFlexpay: utils.GenerateCode: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"keyId":%q,"keySecret":%q}`, requestID, f.keyID, f.keySecret)
	bodyReader := bytes.NewReader([]byte(body))

	_baseURL, _ := url.Parse(f.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), "/v1/auth/token"), bodyReader)
	if err != nil {
		return "", fmt.Errorf("connectFlexpay: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256([]byte(body), []byte(f.keySecret)))

	resp, err := f.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectFlexpay: http.Do: %w", err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		f.toggleTokenRefresher <- struct{}{}
		return "", errors.New("connectFlexpay: resp.StatusCode: 401 => Unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("connectFlexpay: resp.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		Status string `json:"status"`
		Data   struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectFlexpay: json.Decode: %w", err)
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("connectFlexpay: reply.Status: %v", reply.Status)
	}

	return fmt.Sprintf("%s %s", reply.Data.TokenType, reply.Data.AccessToken), nil
}

// CreateIntent registers a payment intent sized to the order total. The
// gateway expects amounts in minor units.
func (f *flexpay) CreateIntent(ctx context.Context, ir *IntentRequest) (*Intent, error) {
	result, err := f.breaker.Execute(ctx, func() (interface{}, error) {
		return f.createIntent(ctx, ir)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Intent), nil
}

func (f *flexpay) createIntent(ctx context.Context, ir *IntentRequest) (*Intent, error) {
	requestID, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("createIntent: utils.GenerateCode: %w", err)
	}

	minor := ir.Amount.Mul(decimal.NewFromInt(100)).Round(0)

	body := fmt.Sprintf(`{"requestId":%q,"amount":%s,"currency":%q,"receipt":%q}`,
		requestID, minor, ir.Currency, ir.ReceiptRef)
	bodyReader := bytes.NewReader([]byte(body))

	_baseURL, _ := url.Parse(f.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), "/v1/orders"), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("createIntent: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256([]byte(body), []byte(f.keySecret)))
	req.Header.Set("Authorization", f.getAccessToken())

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("createIntent: http.Do: %w", err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		f.toggleTokenRefresher <- struct{}{}
		return nil, errors.New("createIntent: resp.StatusCode: 401 => Unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("createIntent: resp.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		Status string `json:"status"`
		Data   struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Receipt  string `json:"receipt"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("createIntent: json.Decode: %w", err)
	}
	if reply.Status != "OK" {
		return nil, fmt.Errorf("createIntent: reply.Status: %v", reply.Status)
	}

	return &Intent{
		ID:         reply.Data.ID,
		Amount:     decimal.NewFromInt(reply.Data.Amount).Div(decimal.NewFromInt(100)),
		Currency:   reply.Data.Currency,
		ReceiptRef: reply.Data.Receipt,
		CreatedAt:  time.Now(),
	}, nil
}
