package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/config"
	"boxoffice/internal/status"
	"boxoffice/models"
	"boxoffice/monitoring"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// ReservationService is the only component that decrements tier
// inventory. Restores happen in the sweeper through the same guarded
// SQL helpers.
type ReservationService struct {
	app     core.App
	config  *config.Config
	monitor *monitoring.Monitor
}

func NewReservationService(app core.App, cfg *config.Config, monitor *monitoring.Monitor) *ReservationService {
	return &ReservationService{app: app, config: cfg, monitor: monitor}
}

// Reserve locks inventory for the requested items and creates an active
// reservation with a TTL. All-or-nothing: any tier short on inventory
// rolls back every decrement already applied for this call.
func (s *ReservationService) Reserve(ctx context.Context, eventID, userID, deviceID string, items []models.ReservationItem) (*models.Reservation, error) {
	if len(items) == 0 {
		return nil, status.E(status.CodeInvalidInput, "no items requested")
	}
	for _, item := range items {
		if item.TierID == "" || item.Quantity <= 0 {
			return nil, status.E(status.CodeInvalidInput, "each item needs a tier and a positive quantity")
		}
	}

	event, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		return nil, status.E(status.CodeInvalidInput, "event not found")
	}
	if st := event.GetString("status"); st != "published" && st != "started" {
		return nil, status.E(status.CodeEventNotOnSale, fmt.Sprintf("event is %s", st))
	}

	var reservation *models.Reservation

	err = s.app.RunInTransaction(func(txApp core.App) error {
		for _, item := range items {
			tier, err := txApp.FindRecordById("tiers", item.TierID)
			if err != nil || tier.GetString("event") != eventID {
				return status.E(status.CodeInvalidInput, fmt.Sprintf("unknown tier %s", item.TierID))
			}
			if tier.GetString("status") == "unavailable" {
				return status.E(status.CodeInsufficientInventory, fmt.Sprintf("tier %s is not on sale", item.TierID))
			}

			if err := decrementTier(txApp, item.TierID, item.Quantity); err != nil {
				return err
			}
		}

		collection, err := txApp.FindCollectionByNameOrId("reservations")
		if err != nil {
			return err
		}

		record := core.NewRecord(collection)
		record.Set("event", eventID)
		record.Set("user_id", userID)
		record.Set("device_id", deviceID)
		record.Set("items", items)
		record.Set("status", models.ReservationActive)
		record.Set("expires_at", time.Now().Add(s.config.ReservationTTL).UTC())

		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("reserve: save reservation: %w", err)
		}

		reservation = reservationFromRecord(record)
		return nil
	})
	if err != nil {
		s.monitor.TrackReservation("rejected")
		return nil, err
	}

	s.monitor.TrackReservation("created")
	slog.Info("reservation created",
		"reservation", reservation.ID,
		"event", eventID,
		"user", userID,
		"expires_at", reservation.ExpiresAt.Format(time.RFC3339))

	return reservation, nil
}

// GetReservation loads a reservation by id.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	record, err := s.app.FindRecordById("reservations", id)
	if err != nil {
		return nil, status.E(status.CodeReservationNotFound, "reservation not found")
	}
	return reservationFromRecord(record), nil
}

// claimedRow reports whether a guarded single-row UPDATE claimed its
// row. Zero rows affected means another writer completed the transition
// first; the caller must not apply the transition's side effects.
func claimedRow(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// decrementTier takes qty units from a tier iff enough remain. The WHERE
// guard makes the decrement atomic under concurrent callers; zero rows
// affected means insufficient inventory. A tier hitting zero flips to
// soldout.
func decrementTier(app core.App, tierID string, qty int) error {
	result, err := app.DB().
		NewQuery("UPDATE tiers SET remaining = remaining - {:qty} WHERE id = {:id} AND remaining >= {:qty}").
		Bind(dbx.Params{"qty": qty, "id": tierID}).
		Execute()
	if err != nil {
		return status.Wrap(status.CodeInventoryContention, "inventory update failed", err)
	}

	won, err := claimedRow(result)
	if err != nil {
		return status.Wrap(status.CodeInventoryContention, "inventory update failed", err)
	}
	if !won {
		return status.E(status.CodeInsufficientInventory, fmt.Sprintf("not enough inventory in tier %s", tierID))
	}

	_, err = app.DB().
		NewQuery("UPDATE tiers SET status = 'soldout' WHERE id = {:id} AND remaining = 0 AND status = 'available'").
		Bind(dbx.Params{"id": tierID}).
		Execute()
	return err
}

// restoreTier returns qty units to a tier and reopens a soldout tier.
func restoreTier(app core.App, tierID string, qty int) error {
	_, err := app.DB().
		NewQuery("UPDATE tiers SET remaining = remaining + {:qty}, status = (CASE WHEN status = 'soldout' THEN 'available' ELSE status END) WHERE id = {:id}").
		Bind(dbx.Params{"qty": qty, "id": tierID}).
		Execute()
	return err
}

// restoreItems returns all of a reservation's held inventory.
func restoreItems(app core.App, items []models.ReservationItem) error {
	for _, item := range items {
		if err := restoreTier(app, item.TierID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func reservationFromRecord(record *core.Record) *models.Reservation {
	r := &models.Reservation{
		ID:        record.Id,
		EventID:   record.GetString("event"),
		UserID:    record.GetString("user_id"),
		DeviceID:  record.GetString("device_id"),
		Status:    record.GetString("status"),
		CreatedAt: record.GetDateTime("created").Time(),
		ExpiresAt: record.GetDateTime("expires_at").Time(),
	}
	if err := record.UnmarshalJSONField("items", &r.Items); err != nil {
		slog.Error("reservation: unmarshal items", "reservation", record.Id, "error", err)
	}
	return r
}
