package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/db"
)

var addProcessedLnEvents = &gormigrate.Migration{
	ID: "202503220930_processed_ln_events",
	Migrate: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&db.ProcessedLnEvent{})
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Migrator().DropTable("processed_ln_events")
	},
}
