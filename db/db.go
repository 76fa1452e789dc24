package db

import (
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/Catrya/mostro/logger"
)

func NewDB(uri string, logDBQueries bool) (*gorm.DB, error) {
	// sqlite needs a few pragmas to behave under concurrent access
	if !strings.Contains(uri, "?") {
		uri = uri + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	}

	gormLogLevel := gorm_logger.Silent
	if logDBQueries {
		gormLogLevel = gorm_logger.Info
	}

	gormDB, err := gorm.Open(sqlite.Open(uri), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to open database")
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	// single writer, sqlite does not like concurrent write transactions
	sqlDB.SetMaxOpenConns(1)

	return gormDB, nil
}
