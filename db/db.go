// Package db opens the sqlite database and runs migrations.
package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Blockstream/cln-lsps/db/migrations"
	"github.com/Blockstream/cln-lsps/logger"
)

// NewDB opens the database at uri, applies connection pragmas and runs all
// pending migrations.
func NewDB(uri string, logDBQueries bool) (*gorm.DB, error) {
	// Sane sqlite defaults for a long-running single-writer service.
	if !strings.Contains(uri, "?") {
		uri = uri + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
	}
	if logDBQueries {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	} else {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	gormDB, err := gorm.Open(sqlite.Open(uri), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrations.Migrate(gormDB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Logger.Info().Str("uri", uri).Msg("Database ready")
	return gormDB, nil
}
