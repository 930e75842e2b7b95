package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	keyReplicationEnabled      = "replication.enabled"
	keyReplicationPollMinutes  = "replication.poll_interval_minutes"
	keyReplicationLookbackHour = "replication.lookback_hours"
	keyReplicationMaxRecords   = "replication.max_records_per_poll"
	keyRemindersEnabled        = "reminders.enabled"
	keyReminderIntervalMinutes = "reminder.interval_minutes"
	keyReminderDaysAhead       = "reminder.days_ahead"

	defaultPollMinutes     = 15
	defaultLookbackHours   = 24
	defaultMaxRecords      = 500
	defaultReminderMinutes = 60
	defaultDaysAhead       = 1
)

// Settings are operational switches read on every access, so changing the
// environment or the settings file takes effect on the next loop tick.
type Settings struct {
	v *viper.Viper
}

// NewSettings binds settings to the environment. REPLICATION_ENABLED maps to
// replication.enabled and so on.
func NewSettings() *Settings {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyReplicationEnabled, true)
	v.SetDefault(keyReplicationPollMinutes, defaultPollMinutes)
	v.SetDefault(keyReplicationLookbackHour, defaultLookbackHours)
	v.SetDefault(keyReplicationMaxRecords, defaultMaxRecords)
	v.SetDefault(keyRemindersEnabled, true)
	v.SetDefault(keyReminderIntervalMinutes, defaultReminderMinutes)
	v.SetDefault(keyReminderDaysAhead, defaultDaysAhead)

	return &Settings{v: v}
}

// ReadFile loads a settings file and watches it for changes. Environment
// variables still take precedence over file values.
func (s *Settings) ReadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("settings file %q not found: %w", path, err)
		}
		return fmt.Errorf("failed to read settings file %q: %w", path, err)
	}
	s.v.WatchConfig()
	return nil
}

// Set overrides a key for the lifetime of the process.
func (s *Settings) Set(key string, value any) {
	s.v.Set(key, value)
}

func (s *Settings) ReplicationEnabled() bool {
	return s.boolOr(keyReplicationEnabled, true)
}

func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.positiveInt(keyReplicationPollMinutes, defaultPollMinutes)) * time.Minute
}

func (s *Settings) LookbackWindow() time.Duration {
	return time.Duration(s.positiveInt(keyReplicationLookbackHour, defaultLookbackHours)) * time.Hour
}

func (s *Settings) MaxRecordsPerPoll() int {
	return s.positiveInt(keyReplicationMaxRecords, defaultMaxRecords)
}

func (s *Settings) RemindersEnabled() bool {
	return s.boolOr(keyRemindersEnabled, true)
}

func (s *Settings) ReminderInterval() time.Duration {
	return time.Duration(s.positiveInt(keyReminderIntervalMinutes, defaultReminderMinutes)) * time.Minute
}

func (s *Settings) ReminderDaysAhead() int {
	return s.positiveInt(keyReminderDaysAhead, defaultDaysAhead)
}

func (s *Settings) positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.v.GetString(key)))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Settings) boolOr(key string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s.v.GetString(key)))
	if err != nil {
		return fallback
	}
	return b
}
