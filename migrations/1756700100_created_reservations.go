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

		collection := core.NewBaseCollection("reservations")
		collection.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "device_id"},
			&core.JSONField{Name: "items", MaxSize: 10000, Required: true},
			&core.SelectField{Name: "status", Values: []string{"active", "consumed", "expired", "cancelled"}, MaxSelect: 1, Required: true},
			&core.DateField{Name: "expires_at", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_reservations_status_expiry", false, "status, expires_at", "")
		collection.AddIndex("idx_reservations_user", false, "user_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("reservations")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
