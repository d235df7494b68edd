package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		events := core.NewBaseCollection("events")
		events.Fields.Add(
			&core.TextField{Name: "name", Required: true, Presentable: true},
			&core.TextField{Name: "venue"},
			&core.DateField{Name: "starts_at"},
			&core.SelectField{Name: "status", Values: []string{"draft", "published", "started", "ended"}, MaxSelect: 1, Required: true},
			&core.BoolField{Name: "is_rsvp"},
			&core.TextField{Name: "currency"},
			&core.NumberField{Name: "admit_capacity", OnlyInt: true},
			&core.NumberField{Name: "service_fee_percent"},
			&core.NumberField{Name: "service_fee_flat"},
			&core.BoolField{Name: "promoter_enabled"},
			&core.TextField{Name: "promoter_code"},
			&core.SelectField{Name: "promoter_discount_type", Values: []string{"percent", "flat"}, MaxSelect: 1},
			&core.NumberField{Name: "promoter_discount_amount"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		if err := app.Save(events); err != nil {
			return err
		}

		tiers := core.NewBaseCollection("tiers")
		tiers.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.TextField{Name: "name", Required: true, Presentable: true},
			&core.NumberField{Name: "price"},
			&core.SelectField{Name: "entry_type", Values: []string{"seat", "stand"}, MaxSelect: 1},
			&core.NumberField{Name: "total_count", OnlyInt: true},
			&core.NumberField{Name: "remaining", OnlyInt: true, Min: floatPtr(0)},
			&core.BoolField{Name: "promoter_optin"},
			&core.SelectField{Name: "status", Values: []string{"available", "soldout", "unavailable"}, MaxSelect: 1, Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		tiers.AddIndex("idx_tiers_event", false, "event", "")

		return app.Save(tiers)
	}, func(app core.App) error {
		for _, name := range []string{"tiers", "events"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}

func floatPtr(v float64) *float64 {
	return &v
}
