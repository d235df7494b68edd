package services

import (
	"context"
	"encoding/json"
	"testing"

	"boxoffice/internal/status"
	"boxoffice/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reserve validates the cart before touching the event or inventory; a
// service with no storage behind it proves bad input never gets that far.
func TestReserve_RejectsInvalidInput(t *testing.T) {
	svc := &ReservationService{}

	cases := []struct {
		name  string
		items []models.ReservationItem
	}{
		{"empty cart", nil},
		{"zero quantity", []models.ReservationItem{{TierID: "vip", Quantity: 0}}},
		{"negative quantity", []models.ReservationItem{{TierID: "vip", Quantity: -3}}},
		{"missing tier", []models.ReservationItem{{TierID: "", Quantity: 1}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(context.Background(), "evt1", "user1", "dev1", tc.items)
			assert.True(t, status.Is(err, status.CodeInvalidInput))
		})
	}
}

func TestReservationFromRecord(t *testing.T) {
	collection := core.NewBaseCollection("reservations")
	collection.Fields.Add(
		&core.TextField{Name: "event"},
		&core.TextField{Name: "user_id"},
		&core.TextField{Name: "device_id"},
		&core.JSONField{Name: "items", MaxSize: 50000},
		&core.TextField{Name: "status"},
		&core.DateField{Name: "expires_at"},
	)

	items, err := json.Marshal([]models.ReservationItem{
		{TierID: "vip", Quantity: 2},
		{TierID: "ga", Quantity: 1},
	})
	require.NoError(t, err)

	expires := types.NowDateTime()

	record := core.NewRecord(collection)
	record.Set("event", "evt1")
	record.Set("user_id", "user1")
	record.Set("device_id", "dev1")
	record.Set("items", string(items))
	record.Set("status", models.ReservationActive)
	record.Set("expires_at", expires)

	reservation := reservationFromRecord(record)

	assert.Equal(t, "evt1", reservation.EventID)
	assert.Equal(t, "user1", reservation.UserID)
	assert.Equal(t, "dev1", reservation.DeviceID)
	assert.Equal(t, models.ReservationActive, reservation.Status)
	assert.Equal(t, expires.Time().Unix(), reservation.ExpiresAt.Unix())

	require.Len(t, reservation.Items, 2)
	assert.Equal(t, models.ReservationItem{TierID: "vip", Quantity: 2}, reservation.Items[0])
	assert.Equal(t, models.ReservationItem{TierID: "ga", Quantity: 1}, reservation.Items[1])
}
