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
		codes, err := app.FindCollectionByNameOrId("codes")
		if err != nil {
			return err
		}
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("qr_codes")
		collection.Fields.Add(
			// Both owner and party stay optional: guest tickets have no
			// owner, and rows from before party_id existed get it
			// backfilled on first scan.
			&core.RelationField{Name: "user_id", CollectionId: users.Id, MaxSelect: 1},
			&core.RelationField{Name: "party_id", CollectionId: parties.Id, MaxSelect: 1},
			&core.RelationField{Name: "code", CollectionId: codes.Id, MaxSelect: 1},
			&core.TextField{Name: "qr_token", Required: true, Max: 500},
			&core.TextField{Name: "qr_image", Max: 1000000},
			&core.TextField{Name: "qr_code_data", Max: 500},
			&core.SelectField{Name: "status", Values: []string{"not used", "used"}, MaxSelect: 1},
			&core.DateField{Name: "valid_until"},
			&core.DateField{Name: "used_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_qr_codes_token", true, "qr_token", "")
		collection.AddIndex("idx_qr_codes_party", false, "party_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("qr_codes")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
