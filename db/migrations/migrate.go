package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate applies all pending migrations in order.
func Migrate(gormDB *gorm.DB) error {
	m := gormigrate.New(gormDB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		_202608251200_add_lsps1_tables,
	})
	return m.Migrate()
}
