package models

import (
	"time"
)

type Event struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Venue            string    `json:"venue"`
	StartsAt         time.Time `json:"starts_at"`
	Status           string    `json:"status"` // draft, published, started, ended
	IsRSVP           bool      `json:"is_rsvp"`
	Currency         string    `json:"currency"`
	AdmitCapacity    int       `json:"admit_capacity"`
	ServiceFeePct    float64   `json:"service_fee_percent"`
	ServiceFeeFlat   float64   `json:"service_fee_flat"`
	PromoterEnabled  bool      `json:"promoter_enabled"`
	PromoterCode     string    `json:"promoter_code"`
	PromoterDiscType string    `json:"promoter_discount_type"` // percent, flat
	PromoterDiscAmt  float64   `json:"promoter_discount_amount"`
}

type Tier struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	EntryType     string  `json:"entry_type"` // seat, stand
	TotalCount    int     `json:"total_count"`
	Remaining     int     `json:"remaining"`
	PromoterOptIn bool    `json:"promoter_optin"`
	Status        string  `json:"status"` // available, soldout, unavailable
}

// Discount is a generic promo code loaded from the discounts collection.
type Discount struct {
	Code      string     `json:"code"`
	Type      string     `json:"type"` // percent, flat
	Amount    float64    `json:"amount"`
	MaxUses   int        `json:"max_uses"`
	UsedCount int        `json:"used_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

// Usable reports whether the code can still be applied at the given time.
func (d *Discount) Usable(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	if d.MaxUses > 0 && d.UsedCount >= d.MaxUses {
		return false
	}
	return true
}
