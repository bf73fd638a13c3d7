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
		prices, err := app.FindCollectionByNameOrId("prices")
		if err != nil {
			return err
		}
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("codes")
		collection.Fields.Add(
			&core.RelationField{Name: "party_id", CollectionId: parties.Id, Required: true, MaxSelect: 1, CascadeDelete: true},
			&core.RelationField{Name: "price_id", CollectionId: prices.Id, Required: true, MaxSelect: 1},
			&core.TextField{Name: "code", Required: true, Max: 100},
			&core.BoolField{Name: "already_used"},
			&core.RelationField{Name: "user_id", CollectionId: users.Id, MaxSelect: 1},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		// The unique code column doubles as the dedupe guard for preview
		// materialization.
		collection.AddIndex("idx_codes_code", true, "code", "")
		collection.AddIndex("idx_codes_party", false, "party_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("codes")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
