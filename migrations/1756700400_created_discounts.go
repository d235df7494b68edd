package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("discounts")
		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Presentable: true},
			&core.SelectField{Name: "type", Values: []string{"percent", "flat"}, MaxSelect: 1, Required: true},
			&core.NumberField{Name: "amount", Required: true},
			&core.NumberField{Name: "max_uses", OnlyInt: true},
			&core.NumberField{Name: "used_count", OnlyInt: true},
			&core.DateField{Name: "expires_at"},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_discounts_code", true, "code", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("discounts")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
