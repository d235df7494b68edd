package models

import (
	"time"
)

const (
	OrderPendingPayment = "pending_payment"
	OrderConfirmed      = "confirmed"
	OrderFailed         = "failed"
	OrderRSVPConfirmed  = "rsvp_confirmed"
	OrderCheckedIn      = "checked_in"
)

// OrderItem is one priced tier line on an order, with the per-unit
// admission ticket ids minted at order creation.
type OrderItem struct {
	TierID    string   `json:"tier_id"`
	Name      string   `json:"name"`
	EntryType string   `json:"entry_type"`
	UnitPrice float64  `json:"unit_price"`
	Quantity  int      `json:"quantity"`
	LineTotal float64  `json:"line_total"`
	TicketIDs []string `json:"ticket_ids"`
}

type Buyer struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

type Order struct {
	ID            string      `json:"id"`
	ReservationID string      `json:"reservation_id"`
	EventID       string      `json:"event_id"`
	Buyer         Buyer       `json:"buyer"`
	Items         []OrderItem `json:"items"`
	Subtotal      float64     `json:"subtotal"`
	DiscountTotal float64     `json:"discount_total"`
	FeeTotal      float64     `json:"fee_total"`
	GrandTotal    float64     `json:"grand_total"`
	Currency      string      `json:"currency"`
	Status        string      `json:"status"`
	IntentID      string      `json:"intent_id,omitempty"`
	PaymentID     string      `json:"payment_id,omitempty"`
	PromoCode     string      `json:"promo_code,omitempty"`
	PromoterCode  string      `json:"promoter_code,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
}

// Payable reports whether the order still awaits a payment confirmation.
func (o *Order) Payable() bool {
	return o.Status == OrderPendingPayment
}

// Admittable reports whether tickets on the order may be scanned at the door.
func (o *Order) Admittable() bool {
	return o.Status == OrderConfirmed || o.Status == OrderCheckedIn || o.Status == OrderRSVPConfirmed
}
