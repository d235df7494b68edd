package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"boxoffice/models"
	"boxoffice/monitoring"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestScannerService() *ScannerService {
	db, _ := redismock.NewClientMock()
	return &ScannerService{
		secret:  []byte("door-secret"),
		monitor: monitoring.NewMonitor(db),
	}
}

func signedPayload(s *ScannerService) *models.AdmissionPayload {
	p := &models.AdmissionPayload{
		OrderID:   "ord1",
		EventID:   "evt1",
		TicketID:  "TKT-AB12CD34",
		BuyerID:   "user1",
		Quantity:  2,
		EntryType: "seat",
		IssuedAt:  time.Now().Unix(),
	}
	p.Signature = s.SignAdmission(p)
	return p
}

func TestCanonicalAdmission_FieldOrder(t *testing.T) {
	p := &models.AdmissionPayload{
		OrderID:  "ord1",
		EventID:  "evt1",
		TicketID: "tkt1",
		BuyerID:  "user1",
		Quantity: 3,
		IssuedAt: 1700000000,
	}

	assert.Equal(t, "ord1|evt1|tkt1|user1|3|1700000000", canonicalAdmission(p))
}

func TestSignAdmission_Roundtrip(t *testing.T) {
	service := setupTestScannerService()
	p := signedPayload(service)

	// same fields, same signature
	assert.Equal(t, p.Signature, service.SignAdmission(p))

	// any field change invalidates it
	tampered := *p
	tampered.TicketID = "TKT-STOLEN00"
	assert.NotEqual(t, p.Signature, service.SignAdmission(&tampered))

	other := &ScannerService{secret: []byte("other-secret")}
	assert.NotEqual(t, p.Signature, other.SignAdmission(p))
}

func TestEncodePayload_Roundtrip(t *testing.T) {
	service := setupTestScannerService()
	p := signedPayload(service)

	encoded := EncodePayload(p)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var decoded models.AdmissionPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *p, decoded)
}

func TestScan_RejectsForgedSignature(t *testing.T) {
	// app is nil: a forged credential must be rejected before any lookup
	service := setupTestScannerService()

	p := signedPayload(service)
	p.Signature = "0000000000000000000000000000000000000000000000000000000000000000"

	resp, err := service.Scan(context.Background(), &ScanRequest{Payload: EncodePayload(p)})
	require.NoError(t, err)
	assert.Equal(t, models.ScanInvalid, resp.Result)
	assert.Equal(t, "ord1", resp.OrderID)
}

func TestScan_RejectsUnreadablePayload(t *testing.T) {
	service := setupTestScannerService()

	resp, err := service.Scan(context.Background(), &ScanRequest{Payload: "not base64!!"})
	require.NoError(t, err)
	assert.Equal(t, models.ScanInvalid, resp.Result)

	garbage := base64.StdEncoding.EncodeToString([]byte("{not json"))
	resp, err = service.Scan(context.Background(), &ScanRequest{Payload: garbage})
	require.NoError(t, err)
	assert.Equal(t, models.ScanInvalid, resp.Result)
}

func TestScan_WrongEvent(t *testing.T) {
	service := setupTestScannerService()
	p := signedPayload(service)

	resp, err := service.Scan(context.Background(), &ScanRequest{
		Payload: EncodePayload(p),
		EventID: "evt2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ScanWrongEvent, resp.Result)
	assert.Equal(t, p.TicketID, resp.TicketID)
}

func TestOrderHoldsTicket(t *testing.T) {
	order := &models.Order{
		Items: []models.OrderItem{
			{TierID: "vip", Quantity: 2, TicketIDs: []string{"TKT-A", "TKT-B"}},
			{TierID: "ga", Quantity: 1, TicketIDs: []string{"TKT-C"}},
		},
	}

	assert.True(t, orderHoldsTicket(order, "TKT-B"))
	assert.True(t, orderHoldsTicket(order, "TKT-C"))
	assert.False(t, orderHoldsTicket(order, "TKT-Z"))
}
