package services

import (
	"testing"
	"time"

	"boxoffice/internal/status"
	"boxoffice/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *models.Event {
	return &models.Event{
		ID:               "evt1",
		Name:             "Mega Concert",
		Status:           "published",
		Currency:         "LAK",
		ServiceFeePct:    5,
		ServiceFeeFlat:   2,
		PromoterEnabled:  true,
		PromoterCode:     "PROMO-STAR",
		PromoterDiscType: "percent",
		PromoterDiscAmt:  10,
	}
}

func testTiers() map[string]*models.Tier {
	return map[string]*models.Tier{
		"vip": {
			ID: "vip", EventID: "evt1", Name: "VIP", Price: 100,
			EntryType: "seat", Remaining: 50, PromoterOptIn: true, Status: "available",
		},
		"ga": {
			ID: "ga", EventID: "evt1", Name: "General", Price: 40,
			EntryType: "stand", Remaining: 500, PromoterOptIn: false, Status: "available",
		},
	}
}

func TestPrice_PlainCart(t *testing.T) {
	svc := NewPricingService()

	items := []models.ReservationItem{
		{TierID: "vip", Quantity: 2},
		{TierID: "ga", Quantity: 3},
	}

	breakdown, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 320.0, breakdown.Subtotal)
	assert.Equal(t, 0.0, breakdown.DiscountTotal)
	// 5% of 320 + flat 2
	assert.Equal(t, 18.0, breakdown.FeeTotal)
	assert.Equal(t, 338.0, breakdown.GrandTotal)
	assert.Len(t, breakdown.Items, 2)
	assert.NotEmpty(t, breakdown.AuditLedger)
}

func TestPrice_PromoterAppliesOnlyToOptedInTiers(t *testing.T) {
	svc := NewPricingService()

	items := []models.ReservationItem{
		{TierID: "vip", Quantity: 2}, // opted in, 200
		{TierID: "ga", Quantity: 3},  // not opted in, 120
	}

	breakdown, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{
		PromoterCode: "PROMO-STAR",
	}, time.Now())
	require.NoError(t, err)

	// 10% of the 200 opted-in base, not of the 320 subtotal
	assert.Equal(t, 20.0, breakdown.DiscountTotal)
	require.Len(t, breakdown.Discounts, 1)
	assert.Equal(t, "promoter", breakdown.Discounts[0].Source)

	// fees on the discounted subtotal: 5% of 300 + 2
	assert.Equal(t, 17.0, breakdown.FeeTotal)
	assert.Equal(t, 317.0, breakdown.GrandTotal)
}

func TestPrice_PromoterBeforePromoCode(t *testing.T) {
	svc := NewPricingService()

	items := []models.ReservationItem{{TierID: "vip", Quantity: 2}}
	discount := &models.Discount{Code: "SAVE50", Type: "flat", Amount: 50, Active: true}

	breakdown, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{
		PromoterCode: "PROMO-STAR",
		PromoCode:    "SAVE50",
		Discount:     discount,
	}, time.Now())
	require.NoError(t, err)

	// promoter takes 10% of 200 first, then the flat 50
	require.Len(t, breakdown.Discounts, 2)
	assert.Equal(t, "promoter", breakdown.Discounts[0].Source)
	assert.Equal(t, "promo_code", breakdown.Discounts[1].Source)
	assert.Equal(t, 70.0, breakdown.DiscountTotal)
}

func TestPrice_FlatDiscountNeverExceedsBase(t *testing.T) {
	svc := NewPricingService()

	items := []models.ReservationItem{{TierID: "ga", Quantity: 1}} // 40
	discount := &models.Discount{Code: "BIG", Type: "flat", Amount: 500, Active: true}

	breakdown, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{
		PromoCode: "BIG",
		Discount:  discount,
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 40.0, breakdown.DiscountTotal)
	assert.Equal(t, 40.0, breakdown.Subtotal)
	// only the flat fee remains on a zeroed subtotal
	assert.Equal(t, 2.0, breakdown.GrandTotal)
}

func TestPrice_RejectsBadCodes(t *testing.T) {
	svc := NewPricingService()
	items := []models.ReservationItem{{TierID: "ga", Quantity: 1}}
	now := time.Now()

	_, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{PromoterCode: "WRONG"}, now)
	assert.True(t, status.Is(err, status.CodeInvalidPromoterCode))

	_, err = svc.Price(testEvent(), testTiers(), items, PriceOptions{PromoCode: "NOPE"}, now)
	assert.True(t, status.Is(err, status.CodeInvalidPromoCode))

	expired := now.Add(-time.Hour)
	_, err = svc.Price(testEvent(), testTiers(), items, PriceOptions{
		PromoCode: "OLD",
		Discount:  &models.Discount{Code: "OLD", Type: "flat", Amount: 5, Active: true, ExpiresAt: &expired},
	}, now)
	assert.True(t, status.Is(err, status.CodeInvalidPromoCode))

	exhausted := &models.Discount{Code: "USED", Type: "flat", Amount: 5, Active: true, MaxUses: 10, UsedCount: 10}
	_, err = svc.Price(testEvent(), testTiers(), items, PriceOptions{PromoCode: "USED", Discount: exhausted}, now)
	assert.True(t, status.Is(err, status.CodeInvalidPromoCode))
}

func TestPrice_RejectsBadItems(t *testing.T) {
	svc := NewPricingService()
	now := time.Now()

	_, err := svc.Price(testEvent(), testTiers(), nil, PriceOptions{}, now)
	assert.True(t, status.Is(err, status.CodeInvalidInput))

	_, err = svc.Price(testEvent(), testTiers(), []models.ReservationItem{{TierID: "vip", Quantity: 0}}, PriceOptions{}, now)
	assert.True(t, status.Is(err, status.CodeInvalidInput))

	_, err = svc.Price(testEvent(), testTiers(), []models.ReservationItem{{TierID: "ghost", Quantity: 1}}, PriceOptions{}, now)
	assert.True(t, status.Is(err, status.CodeInvalidInput))
}

func TestPrice_Deterministic(t *testing.T) {
	svc := NewPricingService()
	items := []models.ReservationItem{{TierID: "vip", Quantity: 2}, {TierID: "ga", Quantity: 1}}
	now := time.Now()

	first, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{PromoterCode: "PROMO-STAR"}, now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{PromoterCode: "PROMO-STAR"}, now)
		require.NoError(t, err)
		assert.Equal(t, first.GrandTotal, again.GrandTotal)
		assert.Equal(t, first.Discounts, again.Discounts)
	}
}

func TestPriceBreakdown_StripAudit(t *testing.T) {
	svc := NewPricingService()
	items := []models.ReservationItem{{TierID: "ga", Quantity: 2}}

	breakdown, err := svc.Price(testEvent(), testTiers(), items, PriceOptions{}, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, breakdown.AuditLedger)

	public := breakdown.StripAudit()
	assert.Nil(t, public.AuditLedger)
	assert.Equal(t, breakdown.GrandTotal, public.GrandTotal)
	// the original keeps its ledger
	assert.NotEmpty(t, breakdown.AuditLedger)
}
