package models

import (
	"time"
)

const (
	ReservationActive    = "active"
	ReservationConsumed  = "consumed"
	ReservationExpired   = "expired"
	ReservationCancelled = "cancelled"
)

// ReservationItem is one (tier, quantity) line held by a reservation.
// Stored as the reservation's items JSON field.
type ReservationItem struct {
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
}

type Reservation struct {
	ID        string            `json:"id"`
	EventID   string            `json:"event_id"`
	UserID    string            `json:"user_id"`
	DeviceID  string            `json:"device_id"`
	Items     []ReservationItem `json:"items"`
	Status    string            `json:"status"` // active, consumed, expired, cancelled
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}
