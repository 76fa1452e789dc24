package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/db"
)

// Migrate applies the versioned migrations and then lets AutoMigrate pick up
// column additions the versioned steps don't cover.
func Migrate(gormDB *gorm.DB) error {
	m := gormigrate.New(gormDB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		initialMigration,
		addProcessedLnEvents,
	})

	if err := m.Migrate(); err != nil {
		return err
	}

	return gormDB.AutoMigrate(
		&db.Order{},
		&db.User{},
		&db.Dispute{},
		&db.Rating{},
		&db.ProcessedMessage{},
		&db.ProcessedLnEvent{},
	)
}
