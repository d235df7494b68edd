package models

import (
	"time"
)

const (
	LanePriority = "priority"
	LaneGeneral  = "general"
)

const (
	QueueWaiting      = "waiting"
	QueueAdmitted     = "admitted"
	QueueConsumed     = "consumed"
	QueuePaymentRetry = "payment_retry"
	QueueExpired      = "expired"
	QueueAbandoned    = "abandoned"
)

// QueueEntry is the serialized member of a waiting lane list.
type QueueEntry struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Lane      string    `json:"lane"`
	JoinedAt  time.Time `json:"joined_at"`
	SessionID string    `json:"session_id"`
}

// AdmittedEntry is the serialized member of the processing set: a user
// currently allowed inside the reservation flow.
type AdmittedEntry struct {
	UserID     string    `json:"user_id"`
	EventID    string    `json:"event_id"`
	Lane       string    `json:"lane"`
	AdmittedAt time.Time `json:"admitted_at"`
	SessionID  string    `json:"session_id"`
	Token      string    `json:"token"`
}

// QueueTicket is the client-facing view of a user's place in the queue.
type QueueTicket struct {
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	Lane      string `json:"lane"`
	Status    string `json:"status"`
	Position  int    `json:"position,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

type QueueMetrics struct {
	EventID         string    `json:"event_id"`
	TotalInQueue    int       `json:"total_in_queue"`
	PriorityWaiting int       `json:"priority_waiting"`
	GeneralWaiting  int       `json:"general_waiting"`
	AdmittedCount   int       `json:"admitted_count"`
	LastUpdated     time.Time `json:"last_updated"`
}
