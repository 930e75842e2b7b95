package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"gorm.io/gorm"
)

// createAppointmentsTables only creates the tables when the CRUD schema is
// absent, as on a fresh database. Existing tables get the reminder indexes.
func createAppointmentsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_appointments",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PatientModel{}, &repository.AppointmentModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_appointments_reminder_due ON appointments (scheduled_at) WHERE want_notify = true`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_provider_message_id ON appointments (provider_message_id) WHERE provider_message_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_appointments_provider_message_id`,
				`DROP INDEX IF EXISTS idx_appointments_reminder_due`,
			})
		},
	}
}
