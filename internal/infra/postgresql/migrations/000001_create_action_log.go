package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"gorm.io/gorm"
)

func createActionLogTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_action_log",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ActionLogEntryModel{}, &repository.ActionSequenceModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_action_log_created_at ON action_log_entries (created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ActionSequenceModel{}, &repository.ActionLogEntryModel{})
		},
	}
}
