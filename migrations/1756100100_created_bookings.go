package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_bookings0000001",
			"name": "bookings",
			"type": "base",
			"system": false,
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text_bk_id",
					"max": 36,
					"min": 1,
					"name": "id",
					"pattern": "",
					"presentable": false,
					"primaryKey": true,
					"required": true,
					"system": true,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_event",
					"max": 36,
					"min": 0,
					"name": "event_id",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_cname",
					"max": 0,
					"min": 0,
					"name": "customer_name",
					"pattern": "",
					"presentable": true,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_cemail",
					"max": 0,
					"min": 0,
					"name": "customer_email",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_cphone",
					"max": 0,
					"min": 0,
					"name": "customer_phone",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "number_bk_qty",
					"max": null,
					"min": 0,
					"name": "quantity",
					"onlyInt": true,
					"presentable": false,
					"required": true,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "text_bk_total",
					"max": 0,
					"min": 0,
					"name": "total_price",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "select_bk_pstatus",
					"maxSelect": 1,
					"name": "payment_status",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"pending",
						"processing",
						"completed",
						"failed"
					]
				},
				{
					"hidden": false,
					"id": "select_bk_method",
					"maxSelect": 1,
					"name": "payment_method",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"mpesa",
						"pesapal"
					]
				},
				{
					"hidden": false,
					"id": "text_bk_ref",
					"max": 0,
					"min": 0,
					"name": "provider_ref",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_fee",
					"max": 0,
					"min": 0,
					"name": "commission_fee",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_organizer",
					"max": 0,
					"min": 0,
					"name": "organizer_amount",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_rate",
					"max": 0,
					"min": 0,
					"name": "commission_rate",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "select_bk_payout",
					"maxSelect": 1,
					"name": "payout_status",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "select",
					"values": [
						"payout_pending",
						"payout_completed",
						"payout_failed"
					]
				},
				{
					"hidden": false,
					"id": "text_bk_payoutref",
					"max": 0,
					"min": 0,
					"name": "payout_ref",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_created",
					"max": 0,
					"min": 0,
					"name": "created",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_bk_completed",
					"max": 0,
					"min": 0,
					"name": "completed",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				}
			],
			"indexes": [
				"CREATE UNIQUE INDEX idx_bookings_provider_ref ON bookings (provider_ref) WHERE provider_ref != ''",
				"CREATE INDEX idx_bookings_payment_status ON bookings (payment_status)",
				"CREATE INDEX idx_bookings_payout_ref ON bookings (payout_ref)"
			],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_bookings0000001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
