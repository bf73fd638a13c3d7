package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("parties")
		collection.Fields.Add(
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.TextField{Name: "location", Max: 500},
			// Display form, e.g. "5/9/25 • 23:00-06:00".
			&core.TextField{Name: "date", Max: 100},
			&core.RelationField{Name: "administrator", CollectionId: users.Id, MaxSelect: 1},
			&core.URLField{Name: "image"},
			&core.JSONField{Name: "tags", MaxSize: 2000},
			&core.TextField{Name: "category", Max: 100},
			&core.NumberField{Name: "attendees_current", OnlyInt: true},
			&core.NumberField{Name: "attendees_max", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("parties")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
