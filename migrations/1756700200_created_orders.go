package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		reservations, err := app.FindCollectionByNameOrId("reservations")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("orders")
		collection.Fields.Add(
			&core.RelationField{Name: "reservation", CollectionId: reservations.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "buyer_user_id"},
			&core.TextField{Name: "buyer_name"},
			&core.EmailField{Name: "buyer_email"},
			&core.TextField{Name: "buyer_phone"},
			&core.JSONField{Name: "items", MaxSize: 50000, Required: true},
			&core.NumberField{Name: "subtotal"},
			&core.NumberField{Name: "discount_total"},
			&core.NumberField{Name: "fee_total"},
			&core.NumberField{Name: "grand_total"},
			&core.TextField{Name: "currency"},
			&core.SelectField{Name: "status", Values: []string{"pending_payment", "confirmed", "failed", "rsvp_confirmed", "checked_in"}, MaxSelect: 1, Required: true},
			&core.TextField{Name: "intent_id"},
			&core.TextField{Name: "payment_id"},
			&core.TextField{Name: "promo_code"},
			&core.TextField{Name: "promoter_code"},
			&core.DateField{Name: "paid_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// the idempotency key: at most one order per reservation
		collection.AddIndex("idx_orders_reservation", true, "reservation", "")
		collection.AddIndex("idx_orders_status_created", false, "status, created", "")
		collection.AddIndex("idx_orders_intent", false, "intent_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
