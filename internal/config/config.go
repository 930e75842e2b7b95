package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Mirror kinds accepted by MIRROR_KIND.
const (
	MirrorHTTP     = "http"
	MirrorRedis    = "redis"
	MirrorRabbitMQ = "rabbitmq"
	MirrorKafka    = "kafka"
)

// Config holds bootstrap settings read once at process start.
type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RedisURL       string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	KafkaBrokers   string `env:"KAFKA_BROKERS"`
	KafkaTopic     string `env:"KAFKA_TOPIC,default=practice-sync.actions"`
	MirrorKind     string `env:"MIRROR_KIND,default=redis"`
	MirrorURL      string `env:"MIRROR_URL"`
	MirrorName     string `env:"MIRROR_NAME,default=primary-mirror"`
	SMSProviderURL string `env:"SMS_PROVIDER_URL,required=true"`
	APIPort        int    `env:"API_PORT,default=8080"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogFormat      string `env:"LOG_FORMAT,default=json"`
	Timezone       string `env:"TIMEZONE,default=UTC"`

	RateLimitPerSec         int           `env:"RATE_LIMIT_PER_SEC,default=20"`
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN,default=60s"`
	ReceiptPrefetch         int           `env:"RECEIPT_PREFETCH,default=4"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.MirrorKind = strings.ToLower(strings.TrimSpace(c.MirrorKind))
	switch c.MirrorKind {
	case MirrorRedis:
	case MirrorHTTP:
		if strings.TrimSpace(c.MirrorURL) == "" {
			return fmt.Errorf("MIRROR_URL is required for mirror kind %q", c.MirrorKind)
		}
	case MirrorRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required for mirror kind %q", c.MirrorKind)
		}
	case MirrorKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for mirror kind %q", c.MirrorKind)
		}
	default:
		return fmt.Errorf("unsupported mirror kind %q", c.MirrorKind)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
