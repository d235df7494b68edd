package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		orders, err := app.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("scan_records")
		collection.Fields.Add(
			&core.TextField{Name: "scan_key", Required: true},
			&core.RelationField{Name: "order", CollectionId: orders.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "ticket_id", Required: true},
			&core.SelectField{Name: "result", Values: []string{"valid"}, MaxSelect: 1, Required: true},
			&core.TextField{Name: "device_id"},
			&core.TextField{Name: "staff_id"},
			&core.TextField{Name: "venue_id"},
			&core.DateField{Name: "scanned_at", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		// one valid scan per (order, ticket); a concurrent duplicate
		// fails this index and is reported as already scanned
		collection.AddIndex("idx_scan_records_key", true, "scan_key", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("scan_records")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
