package models

import (
	"time"
)

// ScanResult enumerates the outcomes of a door scan.
type ScanResult string

const (
	ScanValid          ScanResult = "valid"
	ScanAlreadyScanned ScanResult = "already_scanned"
	ScanInvalid        ScanResult = "invalid"
	ScanWrongEvent     ScanResult = "wrong_event"
	ScanNotConfirmed   ScanResult = "not_confirmed"
	ScanNotFound       ScanResult = "not_found"
	ScanDeviceInvalid  ScanResult = "device_invalid"
)

// AdmissionPayload is the signed credential encoded into a ticket QR.
type AdmissionPayload struct {
	OrderID   string `json:"order_id"`
	EventID   string `json:"event_id"`
	TicketID  string `json:"ticket_id"`
	BuyerID   string `json:"buyer_id"`
	Quantity  int    `json:"quantity"`
	EntryType string `json:"entry_type"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"sig"`
}

// ScanRecord is the persisted result of a successful validation. At most
// one record with result=valid may exist per (order, ticket) pair.
type ScanRecord struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	TicketID  string     `json:"ticket_id"`
	Result    ScanResult `json:"result"`
	DeviceID  string     `json:"device_id,omitempty"`
	StaffID   string     `json:"staff_id,omitempty"`
	VenueID   string     `json:"venue_id,omitempty"`
	ScannedAt time.Time  `json:"scanned_at"`
}
