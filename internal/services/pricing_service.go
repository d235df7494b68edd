package services

import (
	"fmt"
	"time"

	"boxoffice/internal/status"
	"boxoffice/models"

	"github.com/shopspring/decimal"
)

// PricingService quotes a price breakdown for a set of tier quantities.
// It is deterministic and side-effect free: discount usage counters are
// incremented by checkout at commit time, never here.
type PricingService struct{}

func NewPricingService() *PricingService {
	return &PricingService{}
}

type PriceOptions struct {
	PromoterCode string
	PromoCode    string

	// Discount is the loaded record for PromoCode. The caller resolves
	// it from storage; nil with a non-empty PromoCode means unknown code.
	Discount *models.Discount
}

var hundred = decimal.NewFromInt(100)

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Price computes the full breakdown: itemized lines, promoter discount
// before promo code, event-configured fees on the discounted subtotal,
// and an internal audit ledger of every rule applied.
func (s *PricingService) Price(event *models.Event, tiers map[string]*models.Tier, items []models.ReservationItem, opts PriceOptions, now time.Time) (*models.PriceBreakdown, error) {
	if len(items) == 0 {
		return nil, status.E(status.CodeInvalidInput, "no items to price")
	}

	breakdown := &models.PriceBreakdown{
		Currency: event.Currency,
	}

	subtotal := decimal.Zero
	promoterBase := decimal.Zero

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, status.E(status.CodeInvalidInput, fmt.Sprintf("invalid quantity for tier %s", item.TierID))
		}

		tier, ok := tiers[item.TierID]
		if !ok || tier.EventID != event.ID {
			return nil, status.E(status.CodeInvalidInput, fmt.Sprintf("unknown tier %s", item.TierID))
		}

		unit := decimal.NewFromFloat(tier.Price)
		line := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)

		if tier.PromoterOptIn {
			promoterBase = promoterBase.Add(line)
		}

		breakdown.Items = append(breakdown.Items, models.PriceLine{
			TierID:    tier.ID,
			Name:      tier.Name,
			EntryType: tier.EntryType,
			UnitPrice: tier.Price,
			Quantity:  item.Quantity,
			LineTotal: round2(line).InexactFloat64(),
		})
		breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
			Rule:   "line_item",
			Detail: fmt.Sprintf("tier=%s qty=%d unit=%s line=%s", tier.ID, item.Quantity, unit, round2(line)),
		})
	}

	discountTotal := decimal.Zero

	// promoter discount resolves first and only covers opted-in tiers
	if opts.PromoterCode != "" {
		if !event.PromoterEnabled || opts.PromoterCode != event.PromoterCode {
			return nil, status.E(status.CodeInvalidPromoterCode, "promoter code not valid for this event")
		}

		amount := promoterDiscount(event, promoterBase)
		if amount.IsPositive() {
			discountTotal = discountTotal.Add(amount)
			breakdown.Discounts = append(breakdown.Discounts, models.DiscountLine{
				Source: "promoter",
				Code:   opts.PromoterCode,
				Type:   event.PromoterDiscType,
				Amount: round2(amount).InexactFloat64(),
			})
		}
		breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
			Rule:   "promoter_discount",
			Detail: fmt.Sprintf("code=%s type=%s base=%s amount=%s", opts.PromoterCode, event.PromoterDiscType, round2(promoterBase), round2(amount)),
		})
	}

	// generic promo code applies to whatever the promoter left
	if opts.PromoCode != "" {
		d := opts.Discount
		if d == nil || d.Code != opts.PromoCode || !d.Usable(now) {
			return nil, status.E(status.CodeInvalidPromoCode, "promo code not valid")
		}

		remaining := subtotal.Sub(discountTotal)
		amount := codeDiscount(d, remaining)
		if amount.IsPositive() {
			discountTotal = discountTotal.Add(amount)
			breakdown.Discounts = append(breakdown.Discounts, models.DiscountLine{
				Source: "promo_code",
				Code:   d.Code,
				Type:   d.Type,
				Amount: round2(amount).InexactFloat64(),
			})
		}
		breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
			Rule:   "promo_code",
			Detail: fmt.Sprintf("code=%s type=%s base=%s amount=%s", d.Code, d.Type, round2(remaining), round2(amount)),
		})
	}

	if discountTotal.GreaterThan(subtotal) {
		discountTotal = subtotal
	}

	discounted := subtotal.Sub(discountTotal)
	feeTotal := decimal.Zero

	if event.ServiceFeePct > 0 {
		fee := discounted.Mul(decimal.NewFromFloat(event.ServiceFeePct)).Div(hundred)
		feeTotal = feeTotal.Add(fee)
		breakdown.Fees = append(breakdown.Fees, models.FeeLine{
			Name:   "service_fee",
			Type:   "percent",
			Amount: round2(fee).InexactFloat64(),
		})
		breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
			Rule:   "fee_percent",
			Detail: fmt.Sprintf("pct=%v base=%s amount=%s", event.ServiceFeePct, round2(discounted), round2(fee)),
		})
	}

	if event.ServiceFeeFlat > 0 {
		fee := decimal.NewFromFloat(event.ServiceFeeFlat)
		feeTotal = feeTotal.Add(fee)
		breakdown.Fees = append(breakdown.Fees, models.FeeLine{
			Name:   "service_fee",
			Type:   "flat",
			Amount: round2(fee).InexactFloat64(),
		})
		breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
			Rule:   "fee_flat",
			Detail: fmt.Sprintf("amount=%s", round2(fee)),
		})
	}

	grand := discounted.Add(feeTotal)

	breakdown.Subtotal = round2(subtotal).InexactFloat64()
	breakdown.DiscountTotal = round2(discountTotal).InexactFloat64()
	breakdown.FeeTotal = round2(feeTotal).InexactFloat64()
	breakdown.GrandTotal = round2(grand).InexactFloat64()

	breakdown.AuditLedger = append(breakdown.AuditLedger, models.AuditEntry{
		Rule:   "totals",
		Detail: fmt.Sprintf("subtotal=%s discounts=%s fees=%s grand=%s", round2(subtotal), round2(discountTotal), round2(feeTotal), round2(grand)),
	})

	return breakdown, nil
}

func promoterDiscount(event *models.Event, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}

	switch event.PromoterDiscType {
	case "percent":
		return base.Mul(decimal.NewFromFloat(event.PromoterDiscAmt)).Div(hundred)
	case "flat":
		flat := decimal.NewFromFloat(event.PromoterDiscAmt)
		if flat.GreaterThan(base) {
			return base
		}
		return flat
	}
	return decimal.Zero
}

func codeDiscount(d *models.Discount, base decimal.Decimal) decimal.Decimal {
	if base.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	switch d.Type {
	case "percent":
		return base.Mul(decimal.NewFromFloat(d.Amount)).Div(hundred)
	case "flat":
		flat := decimal.NewFromFloat(d.Amount)
		if flat.GreaterThan(base) {
			return base
		}
		return flat
	}
	return decimal.Zero
}
