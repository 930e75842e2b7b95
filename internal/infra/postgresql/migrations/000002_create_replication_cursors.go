package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"gorm.io/gorm"
)

func createReplicationCursorsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_replication_cursors",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ReplicationCursorModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReplicationCursorModel{})
		},
	}
}
