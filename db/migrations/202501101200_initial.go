package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/db"
)

var initialMigration = &gormigrate.Migration{
	ID: "202501101200_initial",
	Migrate: func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&db.Order{},
			&db.User{},
			&db.Dispute{},
			&db.Rating{},
			&db.ProcessedMessage{},
		)
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(
			"orders", "users", "disputes", "ratings", "processed_messages",
		)
	},
}
