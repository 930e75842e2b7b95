package testutil

import (
	"testing"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/repository"
	"gorm.io/gorm"
)

// AppointmentSeed describes one patient plus appointment row.
type AppointmentSeed struct {
	ID                string
	PatientID         string
	PatientName       string
	Phone             string
	Language          string
	ScheduledAt       time.Time
	WantNotify        bool
	SentFlag          bool
	ProviderMessageID string
}

func SeedAppointment(t testing.TB, db *gorm.DB, seed AppointmentSeed) {
	t.Helper()

	if seed.PatientID == "" {
		seed.PatientID = "pat-" + seed.ID
	}
	if seed.Language == "" {
		seed.Language = "en"
	}

	patient := repository.PatientModel{
		ID:                seed.PatientID,
		FullName:          seed.PatientName,
		Phone:             seed.Phone,
		PreferredLanguage: seed.Language,
	}
	if err := db.Where(repository.PatientModel{ID: seed.PatientID}).FirstOrCreate(&patient).Error; err != nil {
		t.Fatalf("failed to seed patient %s: %v", seed.PatientID, err)
	}

	appointment := repository.AppointmentModel{
		ID:          seed.ID,
		PatientID:   seed.PatientID,
		ScheduledAt: seed.ScheduledAt.UTC(),
		WantNotify:  seed.WantNotify,
		SentFlag:    seed.SentFlag,
		LastUpdated: seed.ScheduledAt.UTC().Add(-72 * time.Hour),
	}
	if seed.ProviderMessageID != "" {
		id := seed.ProviderMessageID
		appointment.ProviderMessageID = &id
	}
	if err := db.Create(&appointment).Error; err != nil {
		t.Fatalf("failed to seed appointment %s: %v", seed.ID, err)
	}
}

func LoadAppointment(t testing.TB, db *gorm.DB, id string) repository.AppointmentModel {
	t.Helper()

	var model repository.AppointmentModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to load appointment %s: %v", id, err)
	}
	return model
}
