package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boxoffice/config"
	"boxoffice/models"
	"boxoffice/monitoring"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// SweeperService reclaims abandoned state on a fixed interval: expired
// reservations and stale unpaid orders both hand their inventory back.
// Every transition is a guarded single-row UPDATE, so overlapping or
// re-run sweeps never restore the same inventory twice.
type SweeperService struct {
	app     core.App
	config  *config.Config
	monitor *monitoring.Monitor

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSweeperService(app core.App, cfg *config.Config, monitor *monitoring.Monitor) *SweeperService {
	return &SweeperService{
		app:      app,
		config:   cfg,
		monitor:  monitor,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *SweeperService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		slog.Info("sweeper started", "interval", s.config.SweepInterval.String())

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopChan:
				slog.Info("sweeper stopping")
				return
			}
		}
	}()
}

// Sweep runs both recovery passes once. Safe to call concurrently with
// live traffic and with itself.
func (s *SweeperService) Sweep(ctx context.Context) {
	s.expireReservations(ctx)
	s.failStaleOrders(ctx)
}

// expireReservations recovers active reservations past their expiry.
func (s *SweeperService) expireReservations(ctx context.Context) {
	records, err := s.app.FindRecordsByFilter("reservations",
		"status = 'active' && expires_at <= {:now}",
		"", 200, 0,
		dbx.Params{"now": types.NowDateTime().String()})
	if err != nil {
		slog.Error("sweeper: list expired reservations", "error", err)
		return
	}

	for _, record := range records {
		reservation := reservationFromRecord(record)

		err := s.app.RunInTransaction(func(txApp core.App) error {
			result, err := txApp.DB().
				NewQuery("UPDATE reservations SET status = 'expired' WHERE id = {:id} AND status = 'active'").
				Bind(dbx.Params{"id": reservation.ID}).
				Execute()
			if err != nil {
				return err
			}

			// losing the claim means another sweep or a checkout got
			// here first; restoring again would double-count
			won, err := claimedRow(result)
			if err != nil || !won {
				return err
			}

			return restoreItems(txApp, reservation.Items)
		})
		if err != nil {
			slog.Error("sweeper: expire reservation", "reservation", reservation.ID, "error", err)
			continue
		}

		s.monitor.TrackSweep("reservation_expired")
		slog.Info("sweeper: reservation expired",
			"reservation", reservation.ID,
			"event", reservation.EventID,
			"items", len(reservation.Items),
			"expired_at", reservation.ExpiresAt.Format(time.RFC3339))
	}
}

// failStaleOrders recovers pending_payment orders past the grace period.
// This is the second, independent recovery path: the reservation behind
// such an order was consumed, so its own expiry can never fire.
func (s *SweeperService) failStaleOrders(ctx context.Context) {
	cutoff := types.NowDateTime().Time().Add(-s.config.OrderGracePeriod)

	records, err := s.app.FindRecordsByFilter("orders",
		"status = 'pending_payment' && created <= {:cutoff}",
		"", 200, 0,
		dbx.Params{"cutoff": cutoff.UTC().Format(types.DefaultDateLayout)})
	if err != nil {
		slog.Error("sweeper: list stale orders", "error", err)
		return
	}

	for _, record := range records {
		order := orderFromRecord(record)

		err := s.app.RunInTransaction(func(txApp core.App) error {
			result, err := txApp.DB().
				NewQuery("UPDATE orders SET status = 'failed' WHERE id = {:id} AND status = 'pending_payment'").
				Bind(dbx.Params{"id": order.ID}).
				Execute()
			if err != nil {
				return err
			}

			// a payment confirmation racing this sweep wins; the claim
			// guard keeps the inventory untouched
			won, err := claimedRow(result)
			if err != nil || !won {
				return err
			}

			return restoreItems(txApp, orderHeldItems(order))
		})
		if err != nil {
			slog.Error("sweeper: fail order", "order", order.ID, "error", err)
			continue
		}

		s.monitor.TrackSweep("order_failed")
		slog.Info("sweeper: order failed",
			"order", order.ID,
			"event", order.EventID,
			"total", order.GrandTotal,
			"age", time.Since(order.CreatedAt).String())
	}
}

// orderHeldItems maps an order's priced lines back to the (tier, qty)
// inventory they hold, for restoring when the order fails.
func orderHeldItems(order *models.Order) []models.ReservationItem {
	items := make([]models.ReservationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.ReservationItem{TierID: item.TierID, Quantity: item.Quantity})
	}
	return items
}

// Shutdown stops the sweep loop and waits for it.
func (s *SweeperService) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
}
