package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		parties, err := app.FindCollectionByNameOrId("parties")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("prices")
		collection.Fields.Add(
			&core.RelationField{Name: "party_id", CollectionId: parties.Id, Required: true, MaxSelect: 1, CascadeDelete: true},
			&core.TextField{Name: "price_name", Required: true, Max: 100},
			&core.NumberField{Name: "price", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_prices_party", false, "party_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("prices")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
