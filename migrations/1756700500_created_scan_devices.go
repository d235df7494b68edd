package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("scan_devices")
		collection.Fields.Add(
			&core.TextField{Name: "device_id", Required: true, Presentable: true},
			&core.TextField{Name: "venue_id"},
			&core.TextField{Name: "label"},
			&core.TextField{Name: "key_hash", Required: true},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_scan_devices_device", true, "device_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("scan_devices")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
