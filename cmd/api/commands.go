package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/handler"
	"github.com/kursadbilgin/practice-sync/internal/queue"
	"github.com/kursadbilgin/practice-sync/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the replication poller and the reminder loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.serve(ctx)
		},
	}
}

func (a *application) serve(ctx context.Context) error {
	api := transport.NewApp(a.logger.Named("http"), a.metrics)

	var broker handler.BrokerHealth
	if a.rabbit != nil {
		broker = a.rabbit
	}
	handler.RegisterHealthRoutes(api, a.sqlDB, a.redis, broker)
	if err := handler.RegisterDeliveryRoutes(api, a.reconciler); err != nil {
		return err
	}
	if err := handler.RegisterAnalyticsRoutes(api, a.appointments, a.cfg.Location()); err != nil {
		return err
	}
	if err := handler.RegisterReplicationRoutes(api, a.poller); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", a.cfg.APIPort)
		a.logger.Info("practice-sync api started", zap.String("addr", addr), zap.String("mirror", a.cfg.MirrorKind))
		return api.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return api.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return a.poller.Start(gctx)
	})
	g.Go(func() error {
		return a.reminders.Start(gctx)
	})

	if a.rabbit != nil {
		consumer := queue.NewReceiptConsumer(a.rabbit, a.cfg.ReceiptPrefetch, a.logger.Named("receipts"))
		g.Go(func() error {
			return consumer.Consume(gctx, queue.ReceiptsQueue, func(ctx context.Context, outcomes []domain.DeliveryOutcome) error {
				_, err := a.reconciler.Apply(ctx, outcomes)
				return err
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("practice-sync api stopped")
	return nil
}

func newPollOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll-once",
		Short: "Ship one batch of unreplicated actions to the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.poller.Poll(cmd.Context())
			app.logger.Info("replication poll finished",
				zap.Bool("disabled", res.Disabled),
				zap.Int("fetched", res.Fetched),
				zap.Int("shipped", res.Shipped),
				zap.Stringer("from", res.From),
				zap.Stringer("to", res.To),
			)
			return err
		},
	}
}

func newRemindCommand(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Select and send reminders for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			target, err := app.reminderDate(date)
			if err != nil {
				return err
			}

			run, err := app.reminders.RunOnce(cmd.Context(), target)
			app.logger.Info("reminder run finished",
				zap.String("date", run.Date.Format(time.DateOnly)),
				zap.Int("selected", run.Selected),
				zap.Int("sent", run.Summary.Sent),
				zap.Int("failed", run.Summary.Failed),
				zap.Int("notAttempted", run.Summary.NotAttempted),
			)
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "appointment date (YYYY-MM-DD); defaults to today plus REMINDER_DAYS_AHEAD")

	return cmd
}

func (a *application) reminderDate(raw string) (time.Time, error) {
	loc := a.cfg.Location()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().In(loc).AddDate(0, 0, a.settings.ReminderDaysAhead()), nil
	}

	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}
