package services

import (
	"errors"
	"testing"

	"boxoffice/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }

func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestClaimedRow(t *testing.T) {
	won, err := claimedRow(fakeResult{rows: 1})
	require.NoError(t, err)
	assert.True(t, won)

	// zero rows affected means another writer already made the
	// transition; the side effects must not run twice
	won, err = claimedRow(fakeResult{rows: 0})
	require.NoError(t, err)
	assert.False(t, won)

	won, err = claimedRow(fakeResult{err: errors.New("driver broke")})
	require.Error(t, err)
	assert.False(t, won)
}

func TestOrderHeldItems(t *testing.T) {
	order := &models.Order{
		Items: []models.OrderItem{
			{TierID: "vip", Quantity: 2, UnitPrice: 100, LineTotal: 200},
			{TierID: "ga", Quantity: 3, UnitPrice: 40, LineTotal: 120},
		},
	}

	items := orderHeldItems(order)
	require.Len(t, items, 2)
	assert.Equal(t, models.ReservationItem{TierID: "vip", Quantity: 2}, items[0])
	assert.Equal(t, models.ReservationItem{TierID: "ga", Quantity: 3}, items[1])
}
