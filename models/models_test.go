package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiscount_Usable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		discount Discount
		want     bool
	}{
		{"active no limits", Discount{Active: true}, true},
		{"inactive", Discount{Active: false}, false},
		{"expired", Discount{Active: true, ExpiresAt: &past}, false},
		{"not yet expired", Discount{Active: true, ExpiresAt: &future}, true},
		{"uses remaining", Discount{Active: true, MaxUses: 10, UsedCount: 9}, true},
		{"exhausted", Discount{Active: true, MaxUses: 10, UsedCount: 10}, false},
		{"unlimited uses", Discount{Active: true, MaxUses: 0, UsedCount: 9999}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.discount.Usable(now))
		})
	}
}

func TestOrder_Payable(t *testing.T) {
	assert.True(t, (&Order{Status: OrderPendingPayment}).Payable())
	assert.False(t, (&Order{Status: OrderConfirmed}).Payable())
	assert.False(t, (&Order{Status: OrderFailed}).Payable())
	assert.False(t, (&Order{Status: OrderRSVPConfirmed}).Payable())
}

func TestOrder_Admittable(t *testing.T) {
	assert.True(t, (&Order{Status: OrderConfirmed}).Admittable())
	assert.True(t, (&Order{Status: OrderCheckedIn}).Admittable())
	assert.True(t, (&Order{Status: OrderRSVPConfirmed}).Admittable())
	assert.False(t, (&Order{Status: OrderPendingPayment}).Admittable())
	assert.False(t, (&Order{Status: OrderFailed}).Admittable())
}
