package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/mirror"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"go.uber.org/zap"
)

// ReplicationSettings are read at the start of every poll.
type ReplicationSettings interface {
	ReplicationEnabled() bool
	PollInterval() time.Duration
	LookbackWindow() time.Duration
	MaxRecordsPerPoll() int
}

// PollResult describes one poll run.
type PollResult struct {
	Skipped  bool
	Disabled bool
	Fetched  int
	Shipped  int
	From     domain.ReplicationPosition
	To       domain.ReplicationPosition
	Partial  bool
}

// ReplicationStatus is the operational view of one mirror's progress.
type ReplicationStatus struct {
	MirrorName        string
	Cursor            domain.ReplicationCursor
	LogHead           domain.ReplicationPosition
	MirrorHead        string
	Enabled           bool
	PollInterval      time.Duration
	LookbackWindow    time.Duration
	MaxRecordsPerPoll int
}

type mirrorHead interface {
	Head(ctx context.Context) (string, error)
}

// ReplicationPoller ships action log entries to the mirror in log order and
// advances the cursor only past entries the mirror confirmed.
type ReplicationPoller struct {
	log        repository.ActionLogRepository
	cursors    repository.CursorRepository
	mirror     mirror.Mirror
	mirrorName string
	settings   ReplicationSettings
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	flight     singleFlight

	// Guarded by flight.
	started   bool
	replaying bool
	replayAt  domain.ReplicationPosition
}

func NewReplicationPoller(
	log repository.ActionLogRepository,
	cursors repository.CursorRepository,
	target mirror.Mirror,
	mirrorName string,
	settings ReplicationSettings,
	logger *zap.Logger,
) (*ReplicationPoller, error) {
	if log == nil {
		return nil, fmt.Errorf("action log repository is required")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor repository is required")
	}
	if target == nil {
		return nil, fmt.Errorf("mirror is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("replication settings are required")
	}
	mirrorName = strings.TrimSpace(mirrorName)
	if mirrorName == "" {
		return nil, fmt.Errorf("mirror name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReplicationPoller{
		log:        log,
		cursors:    cursors,
		mirror:     target,
		mirrorName: mirrorName,
		settings:   settings,
		logger:     logger.With(zap.String("mirror", mirrorName)),
		now:        time.Now,
	}, nil
}

func (p *ReplicationPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Start polls on the configured interval until ctx ends. Poll failures are
// logged and the next tick runs regardless.
func (p *ReplicationPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runPeriodic(ctx, p.settings.PollInterval, func(ctx context.Context) {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("replication poll failed", zap.Error(err))
		}
	})
	return nil
}

// Poll ships at most one batch. Overlapping calls return Skipped.
func (p *ReplicationPoller) Poll(ctx context.Context) (PollResult, error) {
	if !p.flight.tryAcquire() {
		p.metrics.ObservePoll("skipped", 0, 0)
		return PollResult{Skipped: true}, nil
	}
	defer p.flight.release()

	if !p.settings.ReplicationEnabled() {
		p.metrics.ObservePoll("disabled", 0, 0)
		return PollResult{Disabled: true}, nil
	}

	cursor, err := p.cursors.Get(ctx, p.mirrorName)
	if err != nil {
		p.metrics.ObservePoll("failed", 0, 0)
		return PollResult{}, fmt.Errorf("failed to read replication cursor: %w", err)
	}

	start := p.scanStart(cursor.Position)
	result := PollResult{From: start}
	replay := p.replaying

	entries, err := p.log.ListAfter(ctx, start, p.settings.MaxRecordsPerPoll())
	if err != nil {
		p.metrics.ObservePoll("failed", 0, 0)
		return result, fmt.Errorf("failed to read action log after %s: %w", start, err)
	}
	result.Fetched = len(entries)
	if len(entries) == 0 {
		p.replaying = false
		p.metrics.ObservePoll("empty", 0, 0)
		return result, nil
	}

	res, shipErr := p.mirror.UpsertBatch(ctx, entries)
	confirmed := mirror.ConfirmedCount(len(entries), res, shipErr)
	result.Shipped = confirmed

	if confirmed > 0 {
		result.To = entries[confirmed-1].Position()
		if replay {
			p.replayAt = result.To
			p.replaying = result.To.Before(cursor.Position)
		}
		if _, err := p.cursors.Advance(ctx, p.mirrorName, result.To); err != nil {
			p.metrics.ObservePoll("failed", len(entries), confirmed)
			return result, fmt.Errorf("mirror confirmed through %s but cursor advance failed: %w", result.To, err)
		}
	}

	if confirmed < len(entries) {
		result.Partial = true
		failedAt := entries[confirmed].Position()
		p.metrics.ObservePoll("partial", len(entries), confirmed)
		p.logger.Warn("mirror did not confirm the whole batch",
			zap.Stringer("windowStart", start),
			zap.Stringer("windowEnd", entries[len(entries)-1].Position()),
			zap.Stringer("firstUnconfirmed", failedAt),
			zap.Int("fetched", len(entries)),
			zap.Int("confirmed", confirmed),
			zap.Error(shipErr),
		)
		if shipErr == nil {
			shipErr = fmt.Errorf("accepted %d of %d", confirmed, len(entries))
		}
		return result, fmt.Errorf("%w: replication stopped at %s: %v", domain.ErrMirrorRejected, failedAt, shipErr)
	}

	p.metrics.ObservePoll("shipped", len(entries), confirmed)
	p.logger.Info("replicated action log batch",
		zap.Stringer("from", start),
		zap.Stringer("to", result.To),
		zap.Int("count", confirmed),
	)
	return result, nil
}

// scanStart returns the position to read strictly after. Normally that is
// the cursor. The first poll after startup rewinds the read window to the
// lookback day when that day is older than the cursor, and later polls keep
// re-reading from there until they reach the cursor again. The window never
// starts after the cursor, and the cursor itself only moves forward.
func (p *ReplicationPoller) scanStart(cursor domain.ReplicationPosition) domain.ReplicationPosition {
	if !p.started {
		p.started = true
		floor := domain.ReplicationPosition{
			ActionDate: domain.ActionDay(p.now().Add(-p.settings.LookbackWindow())),
		}
		if floor.Before(cursor) {
			p.replaying = true
			p.replayAt = floor
			p.logger.Info("re-reading the lookback window after startup",
				zap.Stringer("cursor", cursor),
				zap.Stringer("lookbackStart", floor),
			)
		}
	}
	if p.replaying {
		return p.replayAt
	}
	return cursor
}

func (p *ReplicationPoller) Status(ctx context.Context) (ReplicationStatus, error) {
	cursor, err := p.cursors.Get(ctx, p.mirrorName)
	if err != nil {
		return ReplicationStatus{}, fmt.Errorf("failed to read replication cursor: %w", err)
	}
	head, err := p.log.Latest(ctx)
	if err != nil {
		return ReplicationStatus{}, fmt.Errorf("failed to read action log head: %w", err)
	}

	status := ReplicationStatus{
		MirrorName:        p.mirrorName,
		Cursor:            cursor,
		LogHead:           head,
		Enabled:           p.settings.ReplicationEnabled(),
		PollInterval:      p.settings.PollInterval(),
		LookbackWindow:    p.settings.LookbackWindow(),
		MaxRecordsPerPoll: p.settings.MaxRecordsPerPoll(),
	}

	if h, ok := p.mirror.(mirrorHead); ok {
		mh, err := h.Head(ctx)
		if err != nil {
			p.logger.Warn("failed to read mirror head", zap.Error(err))
		} else {
			status.MirrorHead = mh
		}
	}
	return status, nil
}
