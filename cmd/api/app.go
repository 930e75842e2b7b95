package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/practice-sync/internal/breaker"
	"github.com/kursadbilgin/practice-sync/internal/config"
	"github.com/kursadbilgin/practice-sync/internal/infra/postgresql"
	"github.com/kursadbilgin/practice-sync/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/practice-sync/internal/infra/redis"
	"github.com/kursadbilgin/practice-sync/internal/mirror"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/provider"
	"github.com/kursadbilgin/practice-sync/internal/queue"
	"github.com/kursadbilgin/practice-sync/internal/reminder"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"github.com/kursadbilgin/practice-sync/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const mirrorTimeout = 30 * time.Second

// application holds every wired component. Commands build one, use the parts
// they need and close it on exit.
type application struct {
	cfg      *config.Config
	settings *config.Settings
	logger   *zap.Logger
	metrics  *observability.Metrics

	db     *gorm.DB
	sqlDB  *sql.DB
	redis  *goredis.Client
	rabbit *queue.RabbitMQ

	appointments *repository.GormAppointmentRepo
	poller       *service.ReplicationPoller
	reminders    *service.ReminderJob
	reconciler   *service.StatusReconciler

	closers []func() error
}

func newApplication(ctx context.Context, opts *rootOptions) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	settings := config.NewSettings()
	if err := settings.ReadFile(opts.settingsFile); err != nil {
		return nil, err
	}

	a := &application{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		metrics:  observability.NewMetrics(),
	}
	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireServices(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *application) openStores(ctx context.Context) error {
	db, err := postgresql.NewPostgres(ctx, a.cfg.DatabaseDSN, postgresql.DefaultPoolConfig(), a.logger)
	if err != nil {
		return err
	}
	a.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	a.sqlDB = sqlDB
	a.closers = append(a.closers, sqlDB.Close)

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		return err
	}
	a.redis = rdb
	a.closers = append(a.closers, rdb.Close)

	if a.cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(a.cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		a.rabbit = rabbit
		a.closers = append(a.closers, rabbit.Close)
	}

	return nil
}

func (a *application) wireServices() error {
	location := a.cfg.Location()

	a.appointments = repository.NewGormAppointmentRepo(a.db)
	actionLog := repository.NewGormActionLogRepo(a.db)

	sequencer, err := service.NewActionSequencer(actionLog, repository.NewGormTransactor(a.db), a.logger.Named("sequencer"))
	if err != nil {
		return err
	}
	sequencer.SetMetrics(a.metrics)

	target, err := a.newMirror()
	if err != nil {
		return fmt.Errorf("mirror initialization failed: %w", err)
	}

	poller, err := service.NewReplicationPoller(actionLog, repository.NewGormCursorRepo(a.db), target, a.cfg.MirrorName, a.settings, a.logger.Named("replication"))
	if err != nil {
		return err
	}
	poller.SetMetrics(a.metrics)
	a.poller = poller

	catalog, err := reminder.LoadDefaultCatalog()
	if err != nil {
		return err
	}
	selector, err := service.NewEligibilitySelector(a.appointments, catalog, location, a.logger.Named("selector"))
	if err != nil {
		return err
	}

	sender, err := provider.NewHTTPSMSProvider(a.cfg.SMSProviderURL)
	if err != nil {
		return fmt.Errorf("sms provider initialization failed: %w", err)
	}
	limiter, err := infraredis.NewRedisRateLimiter(a.redis, a.cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatchWorker(
		a.appointments,
		repository.NewGormAttemptRepo(a.db),
		sequencer,
		sender,
		a.newBreaker(),
		limiter,
		a.logger.Named("dispatch"),
	)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(a.metrics)

	reminders, err := service.NewReminderJob(selector, dispatcher, a.settings, location, a.logger.Named("reminders"))
	if err != nil {
		return err
	}
	a.reminders = reminders

	reconciler, err := service.NewStatusReconciler(a.appointments, sequencer, a.logger.Named("reconciler"))
	if err != nil {
		return err
	}
	reconciler.SetMetrics(a.metrics)
	a.reconciler = reconciler

	return nil
}

func (a *application) newMirror() (mirror.Mirror, error) {
	switch a.cfg.MirrorKind {
	case config.MirrorHTTP:
		m, err := mirror.NewHTTPMirror(a.cfg.MirrorURL, a.cfg.MirrorName, resty.New().SetTimeout(mirrorTimeout))
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.MirrorRabbitMQ:
		if a.rabbit == nil {
			return nil, errors.New("rabbitmq connection is not configured")
		}
		return queue.NewRabbitMQMirror(a.rabbit), nil
	case config.MirrorKafka:
		m, err := mirror.NewKafkaMirror(a.cfg.Brokers(), a.cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, m.Close)
		return m, nil
	default:
		m, err := infraredis.NewRedisMirror(a.redis, a.cfg.MirrorName)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (a *application) newBreaker() *breaker.CircuitBreaker {
	logger := a.logger.Named("breaker")
	a.metrics.SetBreakerState(int(breaker.StateClosed))

	return breaker.New(breaker.Config{
		FailureThreshold: a.cfg.BreakerFailureThreshold,
		Cooldown:         a.cfg.BreakerCooldown,
		IsFailure:        provider.IsTransient,
		OnStateChange: func(from, to breaker.State) {
			a.metrics.SetBreakerState(int(to))
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Close releases connections in reverse order of opening.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
