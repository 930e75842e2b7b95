package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
	t.Setenv("SMS_PROVIDER_URL", "https://sms.example.test/v1/messages")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.RateLimitPerSec != 20 {
		t.Errorf("RateLimitPerSec = %d, want 20", cfg.RateLimitPerSec)
	}
	if cfg.MirrorKind != MirrorRedis || cfg.MirrorName != "primary-mirror" {
		t.Errorf("mirror = %s/%s, want redis/primary-mirror", cfg.MirrorKind, cfg.MirrorName)
	}
	if cfg.BreakerFailureThreshold != 5 || cfg.BreakerCooldown != time.Minute {
		t.Errorf("breaker = %d/%s, want 5/1m", cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("MIRROR_KIND", "Kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("BREAKER_COOLDOWN", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.MirrorKind != MirrorKafka {
		t.Errorf("MirrorKind = %s, want kafka", cfg.MirrorKind)
	}
	if got := cfg.Brokers(); len(got) != 2 || got[1] != "kafka-2:9092" {
		t.Errorf("Brokers() = %v", got)
	}
	if cfg.BreakerCooldown != 90*time.Second {
		t.Errorf("BreakerCooldown = %s, want 1m30s", cfg.BreakerCooldown)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "host=localhost")
	t.Setenv("SMS_PROVIDER_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestLoad_MirrorRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "http needs url", env: map[string]string{"MIRROR_KIND": "http"}},
		{name: "rabbitmq needs url", env: map[string]string{"MIRROR_KIND": "rabbitmq"}},
		{name: "kafka needs brokers", env: map[string]string{"MIRROR_KIND": "kafka", "KAFKA_BROKERS": " , "}},
		{name: "unknown kind", env: map[string]string{"MIRROR_KIND": "s3"}},
		{name: "bad timezone", env: map[string]string{"TIMEZONE": "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("MIRROR_URL", "")
			t.Setenv("RABBITMQ_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
		})
	}
}

func TestSettings_Defaults(t *testing.T) {
	s := NewSettings()

	if !s.ReplicationEnabled() {
		t.Error("ReplicationEnabled() = false, want true")
	}
	if s.PollInterval() != 15*time.Minute {
		t.Errorf("PollInterval() = %s, want 15m", s.PollInterval())
	}
	if s.LookbackWindow() != 24*time.Hour {
		t.Errorf("LookbackWindow() = %s, want 24h", s.LookbackWindow())
	}
	if s.MaxRecordsPerPoll() != 500 {
		t.Errorf("MaxRecordsPerPoll() = %d, want 500", s.MaxRecordsPerPoll())
	}
	if s.ReminderDaysAhead() != 1 || s.ReminderInterval() != time.Hour {
		t.Errorf("reminder = %d/%s", s.ReminderDaysAhead(), s.ReminderInterval())
	}
}

func TestSettings_ReadsEnvironmentOnEveryAccess(t *testing.T) {
	s := NewSettings()

	t.Setenv("REPLICATION_ENABLED", "false")
	t.Setenv("REPLICATION_MAX_RECORDS_PER_POLL", "50")
	if s.ReplicationEnabled() {
		t.Error("ReplicationEnabled() = true after disabling")
	}
	if s.MaxRecordsPerPoll() != 50 {
		t.Errorf("MaxRecordsPerPoll() = %d, want 50", s.MaxRecordsPerPoll())
	}

	t.Setenv("REPLICATION_ENABLED", "true")
	if !s.ReplicationEnabled() {
		t.Error("ReplicationEnabled() = false after re-enabling")
	}
}

func TestSettings_InvalidValuesFallBack(t *testing.T) {
	s := NewSettings()

	t.Setenv("REPLICATION_POLL_INTERVAL_MINUTES", "-3")
	t.Setenv("REPLICATION_LOOKBACK_HOURS", "soon")
	t.Setenv("REMINDERS_ENABLED", "maybe")

	if s.PollInterval() != 15*time.Minute {
		t.Errorf("PollInterval() = %s, want 15m", s.PollInterval())
	}
	if s.LookbackWindow() != 24*time.Hour {
		t.Errorf("LookbackWindow() = %s, want 24h", s.LookbackWindow())
	}
	if !s.RemindersEnabled() {
		t.Error("RemindersEnabled() = false, want default true")
	}
}

func TestSettings_ReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "replication:\n  poll_interval_minutes: 5\n  max_records_per_poll: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	s := NewSettings()
	if err := s.ReadFile(path); err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if s.PollInterval() != 5*time.Minute || s.MaxRecordsPerPoll() != 50 {
		t.Errorf("settings = %s/%d, want 5m/50", s.PollInterval(), s.MaxRecordsPerPoll())
	}

	if err := s.ReadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ReadFile() error = nil for missing file")
	}
}
