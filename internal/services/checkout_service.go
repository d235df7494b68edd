package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/config"
	"boxoffice/internal/services/gateway"
	"boxoffice/internal/status"
	"boxoffice/models"
	"boxoffice/monitoring"
	"boxoffice/utils"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	pubnub "github.com/pubnub/go"
	"github.com/shopspring/decimal"
)

// CheckoutService converts active reservations into orders, exactly one
// order per reservation, and owns the idempotent payment confirmation
// that the pull, webhook and push notification paths all converge on.
type CheckoutService struct {
	app     core.App
	config  *config.Config
	pricing *PricingService
	gateway gateway.Gateway
	queue   *QueueService
	pubnub  *pubnub.PubNub
	monitor *monitoring.Monitor
}

func NewCheckoutService(app core.App, cfg *config.Config, pricing *PricingService, gw gateway.Gateway, queue *QueueService, pn *pubnub.PubNub, monitor *monitoring.Monitor) *CheckoutService {
	return &CheckoutService{
		app:     app,
		config:  cfg,
		pricing: pricing,
		gateway: gw,
		queue:   queue,
		pubnub:  pn,
		monitor: monitor,
	}
}

type CheckoutOptions struct {
	PromoCode    string
	PromoterCode string
}

type CheckoutResult struct {
	Order           *models.Order   `json:"order"`
	RequiresPayment bool            `json:"requires_payment"`
	Intent          *gateway.Intent `json:"payment_intent,omitempty"`
}

// Checkout is safe to retry: a reservation already consumed returns its
// existing order, and a pending order missing its intent gets another
// intent-creation attempt.
func (s *CheckoutService) Checkout(ctx context.Context, reservationID string, buyer models.Buyer, opts CheckoutOptions) (*CheckoutResult, error) {
	resRecord, err := s.app.FindRecordById("reservations", reservationID)
	if err != nil {
		return nil, status.E(status.CodeReservationNotFound, "reservation not found")
	}
	reservation := reservationFromRecord(resRecord)

	switch reservation.Status {
	case models.ReservationActive:
		// proceed

	case models.ReservationConsumed:
		existing, err := s.findOrderByReservation(reservationID)
		if err != nil {
			return nil, status.Wrap(status.CodeDuplicateOrder, "reservation already consumed", err)
		}
		result, err := s.resumeOrder(ctx, existing)
		if err == nil {
			s.settleQueueSlot(reservation.EventID, buyer.UserID, result)
		}
		return result, err

	default:
		return nil, status.E(status.CodeReservationExpired, fmt.Sprintf("reservation is %s", reservation.Status))
	}

	// fresh event and tier read guards against mid-flow price changes
	eventRecord, err := s.app.FindRecordById("events", reservation.EventID)
	if err != nil {
		return nil, status.Wrap(status.CodeInvalidInput, "event not found", err)
	}
	event := eventFromRecord(eventRecord)

	tiers, err := s.loadTiers(reservation.EventID)
	if err != nil {
		return nil, err
	}

	priceOpts := PriceOptions{PromoCode: opts.PromoCode, PromoterCode: opts.PromoterCode}
	if opts.PromoCode != "" {
		priceOpts.Discount = s.findDiscount(opts.PromoCode)
	}

	breakdown, err := s.pricing.Price(event, tiers, reservation.Items, priceOpts, time.Now())
	if err != nil {
		return nil, err
	}

	var orderRecord *core.Record

	err = s.app.RunInTransaction(func(txApp core.App) error {
		// guarded consume; losing the race means another checkout call
		// already owns this reservation
		result, err := txApp.DB().
			NewQuery("UPDATE reservations SET status = 'consumed' WHERE id = {:id} AND status = 'active'").
			Bind(dbx.Params{"id": reservationID}).
			Execute()
		if err != nil {
			return err
		}
		if won, err := claimedRow(result); err != nil || !won {
			return status.E(status.CodeDuplicateOrder, "reservation already consumed")
		}

		if opts.PromoCode != "" {
			if err := consumeDiscountUse(txApp, opts.PromoCode); err != nil {
				return err
			}
		}

		collection, err := txApp.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}

		record := core.NewRecord(collection)
		record.Set("reservation", reservationID)
		record.Set("event", reservation.EventID)
		record.Set("buyer_user_id", buyer.UserID)
		record.Set("buyer_name", buyer.Name)
		record.Set("buyer_email", buyer.Email)
		record.Set("buyer_phone", buyer.Phone)
		record.Set("items", mintOrderItems(breakdown.Items))
		record.Set("subtotal", breakdown.Subtotal)
		record.Set("discount_total", breakdown.DiscountTotal)
		record.Set("fee_total", breakdown.FeeTotal)
		record.Set("grand_total", breakdown.GrandTotal)
		record.Set("currency", breakdown.Currency)
		record.Set("promo_code", opts.PromoCode)
		record.Set("promoter_code", opts.PromoterCode)

		if event.IsRSVP {
			record.Set("status", models.OrderRSVPConfirmed)
		} else {
			record.Set("status", models.OrderPendingPayment)
		}

		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("checkout: save order: %w", err)
		}

		orderRecord = record
		return nil
	})
	if err != nil {
		// the unique index on orders.reservation backstops concurrent
		// racers; whoever lost reads the winner's order back
		if existing, lookupErr := s.findOrderByReservation(reservationID); lookupErr == nil {
			result, resumeErr := s.resumeOrder(ctx, existing)
			if resumeErr == nil {
				s.settleQueueSlot(reservation.EventID, buyer.UserID, result)
			}
			return result, resumeErr
		}
		return nil, err
	}

	s.monitor.TrackOrder("created")
	slog.Info("order created",
		"order", orderRecord.Id,
		"reservation", reservationID,
		"event", reservation.EventID,
		"total", breakdown.GrandTotal,
		"rsvp", event.IsRSVP)

	result, err := s.resumeOrder(ctx, orderRecord)
	if err == nil {
		s.settleQueueSlot(reservation.EventID, buyer.UserID, result)
	}
	return result, err
}

// resumeOrder finishes (or re-finishes) the payment leg of an order:
// RSVP orders need nothing, pending orders without an intent get one.
func (s *CheckoutService) resumeOrder(ctx context.Context, record *core.Record) (*CheckoutResult, error) {
	order := orderFromRecord(record)

	if !order.Payable() {
		return &CheckoutResult{Order: order, RequiresPayment: false}, nil
	}

	result := &CheckoutResult{Order: order, RequiresPayment: true}

	if order.IntentID == "" {
		intent, err := s.gateway.CreateIntent(ctx, &gateway.IntentRequest{
			Amount:     decimal.NewFromFloat(order.GrandTotal),
			Currency:   order.Currency,
			ReceiptRef: order.ID,
		})
		if err != nil {
			// pending order stays retryable; the next checkout call for
			// the same reservation lands here again
			slog.Error("checkout: create intent", "order", order.ID, "error", err)
			s.monitor.TrackPayment("intent_failed")
			return result, nil
		}

		record.Set("intent_id", intent.ID)
		if err := s.app.Save(record); err != nil {
			return nil, fmt.Errorf("checkout: persist intent: %w", err)
		}

		order.IntentID = intent.ID
		result.Intent = intent
		s.monitor.TrackPayment("intent_created")
	}

	return result, nil
}

// ConfirmPayment is the client pull path: it checks the HMAC proof over
// the gateway order id and payment id before confirming.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, orderID, paymentID, signature, gatewayOrderID string) (*models.Order, error) {
	record, err := s.app.FindRecordById("orders", orderID)
	if err != nil {
		return nil, status.E(status.CodeOrderNotFound, "order not found")
	}

	if record.GetString("intent_id") != gatewayOrderID ||
		!s.gateway.VerifyPaymentSignature(gatewayOrderID, paymentID, signature) {
		slog.Warn("payment: signature rejected", "order", orderID, "gateway_order", gatewayOrderID)
		s.monitor.TrackPayment("signature_rejected")
		return nil, status.E(status.CodeInvalidSignature, "payment signature mismatch")
	}

	return s.ConfirmOrderPayment(ctx, orderID, paymentID)
}

// ProcessWebhook is the gateway push path. The signature must already be
// verified over the raw body by the handler; this parses and confirms.
func (s *CheckoutService) ProcessWebhook(ctx context.Context, body []byte) (*models.Order, error) {
	event, err := gateway.ParseWebhook(body)
	if err != nil {
		return nil, status.Wrap(status.CodeInvalidInput, "malformed webhook", err)
	}

	if event.Event != "payment.captured" {
		slog.Info("payment: webhook ignored", "event", event.Event)
		return nil, nil
	}

	payment := event.Payload.Payment
	record, err := s.findOrderByIntent(payment.IntentID)
	if err != nil {
		return nil, status.E(status.CodeOrderNotFound, "no order for gateway order id")
	}

	order, err := s.ConfirmOrderPayment(ctx, record.Id, payment.ID)
	if status.Is(err, status.CodeOrderNotPayable) {
		// the order reached a terminal state before the capture arrived
		// (typically failed by the sweeper); acknowledge so the gateway
		// stops retrying and leave the divergence to operators
		slog.Error("payment: capture for terminal order",
			"order", record.Id,
			"order_status", record.GetString("status"),
			"payment", payment.ID,
			"amount", payment.Amount)
		s.monitor.TrackPayment("capture_divergence")
		return nil, nil
	}
	return order, err
}

// HandleCapture is the realtime push path fed by the gateway's capture
// subscription.
func (s *CheckoutService) HandleCapture(ctx context.Context, capture *gateway.Capture) {
	record, err := s.findOrderByIntent(capture.IntentID)
	if err != nil {
		slog.Warn("payment: capture for unknown intent", "intent", capture.IntentID)
		return
	}

	if _, err := s.ConfirmOrderPayment(ctx, record.Id, capture.PaymentID); err != nil {
		slog.Error("payment: capture confirm", "order", record.Id, "error", err)
	}
}

// ConfirmOrderPayment flips a pending order to confirmed exactly once.
// Confirming an already-confirmed order is a success no-op, which
// tolerates the pull, webhook and capture paths all firing for one
// payment.
func (s *CheckoutService) ConfirmOrderPayment(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	record, err := s.app.FindRecordById("orders", orderID)
	if err != nil {
		return nil, status.E(status.CodeOrderNotFound, "order not found")
	}
	order := orderFromRecord(record)

	settled, err := confirmOutcome(order.Status)
	if err != nil {
		return nil, err
	}
	if settled {
		return order, nil
	}

	result, err := s.app.DB().
		NewQuery("UPDATE orders SET status = 'confirmed', payment_id = {:pid}, paid_at = {:paid} WHERE id = {:id} AND status = 'pending_payment'").
		Bind(dbx.Params{"pid": paymentID, "paid": time.Now().UTC().Format(time.RFC3339), "id": orderID}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("payment: confirm order: %w", err)
	}

	won, err := claimedRow(result)
	if err != nil {
		return nil, err
	}
	if !won {
		// a concurrent path won; read the final state back
		record, err = s.app.FindRecordById("orders", orderID)
		if err != nil {
			return nil, err
		}
		order = orderFromRecord(record)
		if settled, err := confirmOutcome(order.Status); err != nil || !settled {
			return nil, status.E(status.CodeOrderNotPayable, fmt.Sprintf("order is %s", order.Status))
		}
		return order, nil
	}

	record, err = s.app.FindRecordById("orders", orderID)
	if err != nil {
		return nil, err
	}
	order = orderFromRecord(record)

	s.monitor.TrackPayment("confirmed")
	slog.Info("payment confirmed", "order", orderID, "payment", paymentID, "total", order.GrandTotal)

	s.notifyPaymentSuccess(order)

	return order, nil
}

// confirmOutcome classifies an order status for payment confirmation:
// settled statuses make confirmation a no-op success, pending proceeds,
// anything else (failed) cannot accept money.
func confirmOutcome(orderStatus string) (settled bool, err error) {
	switch orderStatus {
	case models.OrderConfirmed, models.OrderCheckedIn, models.OrderRSVPConfirmed:
		return true, nil

	case models.OrderPendingPayment:
		return false, nil

	default:
		return false, status.E(status.CodeOrderNotPayable, fmt.Sprintf("order is %s", orderStatus))
	}
}

// Quote prices a prospective cart against fresh event and tier state,
// without touching inventory or discount counters.
func (s *CheckoutService) Quote(ctx context.Context, eventID string, items []models.ReservationItem, opts CheckoutOptions) (*models.PriceBreakdown, error) {
	eventRecord, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		return nil, status.E(status.CodeInvalidInput, "event not found")
	}

	tiers, err := s.loadTiers(eventID)
	if err != nil {
		return nil, err
	}

	priceOpts := PriceOptions{PromoCode: opts.PromoCode, PromoterCode: opts.PromoterCode}
	if opts.PromoCode != "" {
		priceOpts.Discount = s.findDiscount(opts.PromoCode)
	}

	return s.pricing.Price(eventFromRecord(eventRecord), tiers, items, priceOpts, time.Now())
}

// GetOrder loads an order by id.
func (s *CheckoutService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	record, err := s.app.FindRecordById("orders", id)
	if err != nil {
		return nil, status.E(status.CodeOrderNotFound, "order not found")
	}
	return orderFromRecord(record), nil
}

func (s *CheckoutService) findOrderByReservation(reservationID string) (*core.Record, error) {
	return s.app.FindFirstRecordByFilter("orders", "reservation = {:rid}", dbx.Params{"rid": reservationID})
}

func (s *CheckoutService) findOrderByIntent(intentID string) (*core.Record, error) {
	return s.app.FindFirstRecordByFilter("orders", "intent_id = {:iid}", dbx.Params{"iid": intentID})
}

func (s *CheckoutService) findDiscount(code string) *models.Discount {
	record, err := s.app.FindFirstRecordByFilter("discounts", "code = {:code}", dbx.Params{"code": code})
	if err != nil {
		return nil
	}
	return discountFromRecord(record)
}

func (s *CheckoutService) loadTiers(eventID string) (map[string]*models.Tier, error) {
	records, err := s.app.FindRecordsByFilter("tiers", "event = {:eid}", "", 0, 0, dbx.Params{"eid": eventID})
	if err != nil {
		return nil, fmt.Errorf("checkout: load tiers: %w", err)
	}

	tiers := make(map[string]*models.Tier, len(records))
	for _, record := range records {
		tiers[record.Id] = tierFromRecord(record)
	}
	return tiers, nil
}

// consumeDiscountUse burns one use of a promo code; the usage-cap guard
// runs at commit so abandoned carts never consume uses.
func consumeDiscountUse(app core.App, code string) error {
	result, err := app.DB().
		NewQuery("UPDATE discounts SET used_count = used_count + 1 WHERE code = {:code} AND active = true AND (max_uses = 0 OR used_count < max_uses)").
		Bind(dbx.Params{"code": code}).
		Execute()
	if err != nil {
		return err
	}

	won, err := claimedRow(result)
	if err != nil {
		return err
	}
	if !won {
		return status.E(status.CodeInvalidPromoCode, "promo code exhausted or inactive")
	}
	return nil
}

// mintOrderItems turns priced lines into order items with one admission
// ticket id per unit.
func mintOrderItems(lines []models.PriceLine) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := models.OrderItem{
			TierID:    line.TierID,
			Name:      line.Name,
			EntryType: line.EntryType,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		}
		for i := 0; i < line.Quantity; i++ {
			item.TicketIDs = append(item.TicketIDs, "TKT-"+utils.MustCode(8))
		}
		items = append(items, item)
	}
	return items
}

// settleQueueSlot decides what happens to the buyer's processing slot
// after checkout: a failed intent creation keeps the slot and flags the
// queue entry for retry; anything else (RSVP, intent in hand) frees it.
func (s *CheckoutService) settleQueueSlot(eventID, userID string, result *CheckoutResult) {
	if s.queue == nil || userID == "" {
		return
	}

	if result.RequiresPayment && result.Order.IntentID == "" {
		if err := s.queue.MarkPaymentRetry(context.Background(), eventID, userID); err != nil {
			slog.Warn("checkout: mark payment retry", "event", eventID, "user", userID, "error", err)
		}
		return
	}

	if err := s.queue.ReleaseSlot(context.Background(), eventID, userID); err != nil {
		slog.Warn("checkout: release queue slot", "event", eventID, "user", userID, "error", err)
	}
}

func (s *CheckoutService) notifyPaymentSuccess(order *models.Order) {
	if s.pubnub == nil || order.Buyer.UserID == "" {
		return
	}
	s.pubnub.Publish().
		Channel(fmt.Sprintf("user-%s", order.Buyer.UserID)).
		Message(map[string]any{
			"type":       "payment_success",
			"order_id":   order.ID,
			"payment_id": order.PaymentID,
		}).
		Execute()
}

func orderFromRecord(record *core.Record) *models.Order {
	order := &models.Order{
		ID:            record.Id,
		ReservationID: record.GetString("reservation"),
		EventID:       record.GetString("event"),
		Buyer: models.Buyer{
			UserID: record.GetString("buyer_user_id"),
			Name:   record.GetString("buyer_name"),
			Email:  record.GetString("buyer_email"),
			Phone:  record.GetString("buyer_phone"),
		},
		Subtotal:      record.GetFloat("subtotal"),
		DiscountTotal: record.GetFloat("discount_total"),
		FeeTotal:      record.GetFloat("fee_total"),
		GrandTotal:    record.GetFloat("grand_total"),
		Currency:      record.GetString("currency"),
		Status:        record.GetString("status"),
		IntentID:      record.GetString("intent_id"),
		PaymentID:     record.GetString("payment_id"),
		PromoCode:     record.GetString("promo_code"),
		PromoterCode:  record.GetString("promoter_code"),
		CreatedAt:     record.GetDateTime("created").Time(),
	}
	if err := record.UnmarshalJSONField("items", &order.Items); err != nil {
		slog.Error("order: unmarshal items", "order", record.Id, "error", err)
	}
	if paid := record.GetDateTime("paid_at"); !paid.IsZero() {
		t := paid.Time()
		order.PaidAt = &t
	}
	return order
}

func eventFromRecord(record *core.Record) *models.Event {
	return &models.Event{
		ID:               record.Id,
		Name:             record.GetString("name"),
		Venue:            record.GetString("venue"),
		StartsAt:         record.GetDateTime("starts_at").Time(),
		Status:           record.GetString("status"),
		IsRSVP:           record.GetBool("is_rsvp"),
		Currency:         record.GetString("currency"),
		AdmitCapacity:    record.GetInt("admit_capacity"),
		ServiceFeePct:    record.GetFloat("service_fee_percent"),
		ServiceFeeFlat:   record.GetFloat("service_fee_flat"),
		PromoterEnabled:  record.GetBool("promoter_enabled"),
		PromoterCode:     record.GetString("promoter_code"),
		PromoterDiscType: record.GetString("promoter_discount_type"),
		PromoterDiscAmt:  record.GetFloat("promoter_discount_amount"),
	}
}

func tierFromRecord(record *core.Record) *models.Tier {
	return &models.Tier{
		ID:            record.Id,
		EventID:       record.GetString("event"),
		Name:          record.GetString("name"),
		Price:         record.GetFloat("price"),
		EntryType:     record.GetString("entry_type"),
		TotalCount:    record.GetInt("total_count"),
		Remaining:     record.GetInt("remaining"),
		PromoterOptIn: record.GetBool("promoter_optin"),
		Status:        record.GetString("status"),
	}
}

func discountFromRecord(record *core.Record) *models.Discount {
	d := &models.Discount{
		Code:      record.GetString("code"),
		Type:      record.GetString("type"),
		Amount:    record.GetFloat("amount"),
		MaxUses:   record.GetInt("max_uses"),
		UsedCount: record.GetInt("used_count"),
		Active:    record.GetBool("active"),
	}
	if exp := record.GetDateTime("expires_at"); !exp.IsZero() {
		t := exp.Time()
		d.ExpiresAt = &t
	}
	return d
}
