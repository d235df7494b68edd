package services

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"boxoffice/internal/services/gateway"
	"boxoffice/internal/status"
	"boxoffice/models"
	"boxoffice/monitoring"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

// ScannerService validates signed admission credentials at the venue
// door and enforces the one-valid-scan-per-ticket rule through the
// unique scan_key index.
type ScannerService struct {
	app     core.App
	secret  []byte
	monitor *monitoring.Monitor
}

func NewScannerService(app core.App, ticketSecret string, monitor *monitoring.Monitor) *ScannerService {
	return &ScannerService{app: app, secret: []byte(ticketSecret), monitor: monitor}
}

type ScanRequest struct {
	Payload   string `json:"payload"`
	EventID   string `json:"event_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	DeviceKey string `json:"device_key,omitempty"`
	StaffID   string `json:"staff_id,omitempty"`
	VenueID   string `json:"venue_id,omitempty"`
}

type ScanResponse struct {
	Result    models.ScanResult  `json:"result"`
	Message   string             `json:"message"`
	TicketID  string             `json:"ticket_id,omitempty"`
	OrderID   string             `json:"order_id,omitempty"`
	PriorScan *models.ScanRecord `json:"prior_scan,omitempty"`
}

// canonicalAdmission is the exact byte string the credential signature
// covers. Field order is part of the format and must never change.
func canonicalAdmission(p *models.AdmissionPayload) string {
	return strings.Join([]string{
		p.OrderID,
		p.EventID,
		p.TicketID,
		p.BuyerID,
		strconv.Itoa(p.Quantity),
		strconv.FormatInt(p.IssuedAt, 10),
	}, "|")
}

// SignAdmission computes the credential signature.
func (s *ScannerService) SignAdmission(p *models.AdmissionPayload) string {
	return gateway.Hmac256([]byte(canonicalAdmission(p)), s.secret)
}

// EncodePayload renders a signed payload as the QR body.
func EncodePayload(p *models.AdmissionPayload) string {
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// Scan runs the full door check. Every attempt is logged; only valid
// scans are persisted.
func (s *ScannerService) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req.DeviceID != "" {
		if !s.validateDevice(req.DeviceID, req.DeviceKey, req.VenueID) {
			return s.reject(req, nil, models.ScanDeviceInvalid, "scanning device not authorized"), nil
		}
	}

	raw, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return s.reject(req, nil, models.ScanInvalid, "credential is not readable"), nil
	}

	var payload models.AdmissionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return s.reject(req, nil, models.ScanInvalid, "credential is not readable"), nil
	}

	expected := s.SignAdmission(&payload)
	if !hmac.Equal([]byte(payload.Signature), []byte(expected)) {
		slog.Warn("scan: signature mismatch",
			"order", payload.OrderID,
			"ticket", payload.TicketID,
			"device", req.DeviceID)
		return s.reject(req, &payload, models.ScanInvalid, "credential signature mismatch"), nil
	}

	if req.EventID != "" && req.EventID != payload.EventID {
		return s.reject(req, &payload, models.ScanWrongEvent, "ticket belongs to a different event"), nil
	}

	orderRecord, err := s.app.FindRecordById("orders", payload.OrderID)
	if err != nil {
		return s.reject(req, &payload, models.ScanNotFound, "order not found"), nil
	}
	order := orderFromRecord(orderRecord)

	if !orderHoldsTicket(order, payload.TicketID) {
		return s.reject(req, &payload, models.ScanNotFound, "ticket not found on order"), nil
	}

	if !order.Admittable() {
		return s.reject(req, &payload, models.ScanNotConfirmed, fmt.Sprintf("order is %s", order.Status)), nil
	}

	if prior := s.findValidScan(order.ID, payload.TicketID); prior != nil {
		return s.alreadyScanned(req, &payload, prior), nil
	}

	scanKey := order.ID + ":" + payload.TicketID
	var record *core.Record

	err = s.app.RunInTransaction(func(txApp core.App) error {
		collection, err := txApp.FindCollectionByNameOrId("scan_records")
		if err != nil {
			return err
		}

		record = core.NewRecord(collection)
		record.Set("scan_key", scanKey)
		record.Set("order", order.ID)
		record.Set("ticket_id", payload.TicketID)
		record.Set("result", string(models.ScanValid))
		record.Set("device_id", req.DeviceID)
		record.Set("staff_id", req.StaffID)
		record.Set("venue_id", req.VenueID)
		record.Set("scanned_at", time.Now().UTC())

		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("scan: save record: %w", err)
		}

		// first valid scan checks the order in
		_, err = txApp.DB().
			NewQuery("UPDATE orders SET status = 'checked_in' WHERE id = {:id} AND status IN ('confirmed', 'rsvp_confirmed')").
			Bind(dbx.Params{"id": order.ID}).
			Execute()
		return err
	})
	if err != nil {
		// unique scan_key conflict from a concurrent scan of the same
		// ticket; read the winner back and report already scanned
		if prior := s.findValidScan(order.ID, payload.TicketID); prior != nil {
			return s.alreadyScanned(req, &payload, prior), nil
		}
		return nil, err
	}

	s.monitor.TrackScan(string(models.ScanValid))
	slog.Info("scan: admitted",
		"order", order.ID,
		"ticket", payload.TicketID,
		"device", req.DeviceID,
		"staff", req.StaffID)

	return &ScanResponse{
		Result:   models.ScanValid,
		Message:  "welcome in",
		TicketID: payload.TicketID,
		OrderID:  order.ID,
	}, nil
}

// Credentials issues the signed admission payloads for an admittable
// order, one per minted ticket id.
func (s *ScannerService) Credentials(ctx context.Context, orderID string) ([]models.AdmissionPayload, error) {
	record, err := s.app.FindRecordById("orders", orderID)
	if err != nil {
		return nil, status.E(status.CodeOrderNotFound, "order not found")
	}
	order := orderFromRecord(record)

	if !order.Admittable() {
		return nil, status.E(status.CodeOrderNotPayable, fmt.Sprintf("order is %s", order.Status))
	}

	issuedAt := time.Now().Unix()
	var payloads []models.AdmissionPayload

	for _, item := range order.Items {
		for _, ticketID := range item.TicketIDs {
			p := models.AdmissionPayload{
				OrderID:   order.ID,
				EventID:   order.EventID,
				TicketID:  ticketID,
				BuyerID:   order.Buyer.UserID,
				Quantity:  item.Quantity,
				EntryType: item.EntryType,
				IssuedAt:  issuedAt,
			}
			p.Signature = s.SignAdmission(&p)
			payloads = append(payloads, p)
		}
	}

	return payloads, nil
}

func (s *ScannerService) validateDevice(deviceID, deviceKey, venueID string) bool {
	record, err := s.app.FindFirstRecordByFilter("scan_devices", "device_id = {:did}", dbx.Params{"did": deviceID})
	if err != nil {
		return false
	}
	if !record.GetBool("active") {
		return false
	}
	if venueID != "" && record.GetString("venue_id") != venueID {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(record.GetString("key_hash")), []byte(deviceKey)) == nil
}

func (s *ScannerService) findValidScan(orderID, ticketID string) *models.ScanRecord {
	record, err := s.app.FindFirstRecordByFilter("scan_records",
		"scan_key = {:key} && result = 'valid'",
		dbx.Params{"key": orderID + ":" + ticketID})
	if err != nil {
		return nil
	}
	return &models.ScanRecord{
		ID:        record.Id,
		OrderID:   record.GetString("order"),
		TicketID:  record.GetString("ticket_id"),
		Result:    models.ScanResult(record.GetString("result")),
		DeviceID:  record.GetString("device_id"),
		StaffID:   record.GetString("staff_id"),
		VenueID:   record.GetString("venue_id"),
		ScannedAt: record.GetDateTime("scanned_at").Time(),
	}
}

func (s *ScannerService) alreadyScanned(req *ScanRequest, payload *models.AdmissionPayload, prior *models.ScanRecord) *ScanResponse {
	s.monitor.TrackScan(string(models.ScanAlreadyScanned))
	slog.Warn("scan: duplicate",
		"order", payload.OrderID,
		"ticket", payload.TicketID,
		"first_scanned_at", prior.ScannedAt.Format(time.RFC3339),
		"first_staff", prior.StaffID,
		"device", req.DeviceID)

	return &ScanResponse{
		Result:    models.ScanAlreadyScanned,
		Message:   fmt.Sprintf("already scanned at %s", prior.ScannedAt.Format(time.RFC3339)),
		TicketID:  payload.TicketID,
		OrderID:   payload.OrderID,
		PriorScan: prior,
	}
}

func (s *ScannerService) reject(req *ScanRequest, payload *models.AdmissionPayload, result models.ScanResult, message string) *ScanResponse {
	resp := &ScanResponse{Result: result, Message: message}

	attrs := []any{"result", string(result), "device", req.DeviceID, "staff", req.StaffID}
	if payload != nil {
		resp.TicketID = payload.TicketID
		resp.OrderID = payload.OrderID
		attrs = append(attrs, "order", payload.OrderID, "ticket", payload.TicketID)
	}

	s.monitor.TrackScan(string(result))
	slog.Warn("scan: rejected", attrs...)

	return resp
}

func orderHoldsTicket(order *models.Order, ticketID string) bool {
	for _, item := range order.Items {
		for _, id := range item.TicketIDs {
			if id == ticketID {
				return true
			}
		}
	}
	return false
}
