package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"gorm.io/gorm"
)

func createReminderAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_reminder_attempts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ReminderAttemptModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReminderAttemptModel{})
		},
	}
}
