package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boxoffice/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlexpay(baseURL string) *flexpay {
	return &flexpay{
		baseURL:              baseURL,
		keyID:                "key-id",
		keySecret:            "key-secret",
		accessToken:          "Bearer test-token",
		toggleTokenRefresher: make(chan struct{}, 1),
		breaker:              utils.NewCircuitBreaker("flexpay-test"),
		hc:                   &http.Client{Timeout: time.Second},
	}
}

func TestCreateIntent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// the request body is signed with the key secret
		assert.Equal(t, Hmac256(body, []byte("key-secret")), r.Header.Get("SignedHash"))

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, float64(15000), req["amount"], "amount is sent in minor units")
		assert.Equal(t, "LAK", req["currency"])
		assert.Equal(t, "ORD-1", req["receipt"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","data":{"id":"GW-1","amount":15000,"currency":"LAK","receipt":"ORD-1"}}`))
	}))
	defer server.Close()

	f := testFlexpay(server.URL)

	intent, err := f.CreateIntent(context.Background(), &IntentRequest{
		Amount:     decimal.NewFromInt(150),
		Currency:   "LAK",
		ReceiptRef: "ORD-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "GW-1", intent.ID)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(150)), "amount converts back to major units, got %s", intent.Amount)
	assert.Equal(t, "ORD-1", intent.ReceiptRef)
}

func TestCreateIntent_RejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html><body>Service Unavailable</body></html>"))
	}))
	defer server.Close()

	f := testFlexpay(server.URL)

	_, err := f.CreateIntent(context.Background(), &IntentRequest{
		Amount:     decimal.NewFromInt(150),
		Currency:   "LAK",
		ReceiptRef: "ORD-1",
	})
	require.Error(t, err)

	// the status code is the error, not whatever the error page decodes to
	assert.Contains(t, err.Error(), "resp.StatusCode: 503")
	assert.NotContains(t, err.Error(), "json.Decode")
}

func TestCreateIntent_UnauthorizedTogglesRefresher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := testFlexpay(server.URL)

	_, err := f.CreateIntent(context.Background(), &IntentRequest{
		Amount:     decimal.NewFromInt(150),
		Currency:   "LAK",
		ReceiptRef: "ORD-1",
	})
	require.Error(t, err)
	assert.Len(t, f.toggleTokenRefresher, 1, "a 401 wakes the token refresher")
}
