package models

// PriceLine is one itemized tier line of a quote.
type PriceLine struct {
	TierID    string  `json:"tier_id"`
	Name      string  `json:"name"`
	EntryType string  `json:"entry_type"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"line_total"`
}

// DiscountLine is one applied discount rule.
type DiscountLine struct {
	Source string  `json:"source"` // promoter, promo_code
	Code   string  `json:"code"`
	Type   string  `json:"type"` // percent, flat
	Amount float64 `json:"amount"`
}

// FeeLine is one applied fee rule.
type FeeLine struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"` // percent, flat
	Amount float64 `json:"amount"`
}

// AuditEntry records a single pricing rule evaluation. The ledger exists
// for internal dispute resolution and is stripped from client responses.
type AuditEntry struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

type PriceBreakdown struct {
	Items         []PriceLine    `json:"items"`
	Subtotal      float64        `json:"subtotal"`
	Discounts     []DiscountLine `json:"discounts"`
	DiscountTotal float64        `json:"discount_total"`
	Fees          []FeeLine      `json:"fees"`
	FeeTotal      float64        `json:"fee_total"`
	GrandTotal    float64        `json:"grand_total"`
	Currency      string         `json:"currency"`
	AuditLedger   []AuditEntry   `json:"audit_ledger,omitempty"`
}

// StripAudit returns a copy of the breakdown without the internal ledger,
// safe for externally-facing responses.
func (p PriceBreakdown) StripAudit() PriceBreakdown {
	out := p
	out.AuditLedger = nil
	return out
}
