package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/Blockstream/cln-lsps/lsps/persist"
)

var _202608251200_add_lsps1_tables = &gormigrate.Migration{
	ID: "202608251200_add_lsps1_tables",
	Migrate: func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&persist.Order{},
			&persist.OrderStateRow{},
			&persist.PaymentDetails{},
			&persist.PaymentStateRow{},
			&persist.Channel{},
		)
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(
			&persist.Channel{},
			&persist.PaymentStateRow{},
			&persist.PaymentDetails{},
			&persist.OrderStateRow{},
			&persist.Order{},
		)
	},
}
