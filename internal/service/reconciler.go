package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"go.uber.org/zap"
)

// ReconcileResult counts what happened to one batch of outcomes.
type ReconcileResult struct {
	Received int   `json:"received"`
	Applied  int   `json:"applied"`
	Skipped  int   `json:"skipped"`
	Invalid  int   `json:"invalid"`
	Updated  int64 `json:"updated"`
}

// StatusReconciler folds provider delivery outcomes into appointment state.
type StatusReconciler struct {
	appointments repository.AppointmentRepository
	sequencer    *ActionSequencer
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewStatusReconciler(
	appointments repository.AppointmentRepository,
	sequencer *ActionSequencer,
	logger *zap.Logger,
) (*StatusReconciler, error) {
	if appointments == nil {
		return nil, fmt.Errorf("appointment repository is required")
	}
	if sequencer == nil {
		return nil, fmt.Errorf("action sequencer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusReconciler{
		appointments: appointments,
		sequencer:    sequencer,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (r *StatusReconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Apply reconciles one batch in a single transaction. Invalid outcomes and
// outcomes for unknown provider message ids are skipped; the rest of the
// batch still applies. Replaying a batch leaves appointments unchanged.
func (r *StatusReconciler) Apply(ctx context.Context, outcomes []domain.DeliveryOutcome) (ReconcileResult, error) {
	logger := observability.WithContextLogger(r.logger, ctx)
	result := ReconcileResult{Received: len(outcomes)}

	valid := make([]domain.DeliveryOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if err := o.Validate(); err != nil {
			result.Invalid++
			logger.Warn("skipping invalid delivery outcome",
				zap.String("providerMessageId", o.ProviderMessageID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, o)
	}
	r.metrics.AddDeliveryOutcomes("invalid", result.Invalid)
	if len(valid) == 0 {
		return result, nil
	}

	var unknown []string
	err := r.sequencer.Transact(ctx, func(ctx context.Context) error {
		unknown = nil
		result.Applied, result.Skipped, result.Updated = 0, 0, 0

		resolved, err := r.appointments.ResolveProviderMessageIDs(ctx, providerMessageIDs(valid))
		if err != nil {
			return fmt.Errorf("failed to resolve provider message ids: %w", err)
		}

		known := make([]domain.DeliveryOutcome, 0, len(valid))
		for _, o := range valid {
			appointmentID, ok := resolved[o.ProviderMessageID]
			if !ok {
				result.Skipped++
				unknown = append(unknown, o.ProviderMessageID)
				continue
			}
			if o.AppointmentID != "" && o.AppointmentID != appointmentID {
				logger.Warn("delivery outcome names a different appointment than its message id",
					zap.String("providerMessageId", o.ProviderMessageID),
					zap.String("reportedAppointmentId", o.AppointmentID),
					zap.String("appointmentId", appointmentID),
				)
			}
			o.AppointmentID = appointmentID
			known = append(known, o)
		}
		result.Applied = len(known)
		if len(known) == 0 {
			return nil
		}

		updates := FoldOutcomes(known)
		updated, err := r.appointments.ApplyDeliveryUpdates(ctx, updates)
		if err != nil {
			return fmt.Errorf("failed to apply delivery updates: %w", err)
		}
		result.Updated = updated

		now := r.now().UTC()
		for _, u := range updates {
			payload := domain.StatusChangedPayload{DeliveryStatus: u.Status, ReportedAt: u.LastUpdated}
			if u.ClearWantNotify {
				cleared := false
				payload.WantNotify = &cleared
			}
			if _, err := r.sequencer.Append(ctx, domain.ActionRecord{
				ActionDate:    now,
				AppointmentID: u.AppointmentID,
				Payload:       payload,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, id := range unknown {
		logger.Warn("skipping delivery outcome for unknown provider message id",
			zap.String("providerMessageId", id),
		)
	}
	r.metrics.AddDeliveryOutcomes("applied", result.Applied)
	r.metrics.AddDeliveryOutcomes("skipped", result.Skipped)
	return result, nil
}

// FoldOutcomes collapses outcomes into one update per provider message id.
// Outcomes are taken in reported order: the last status wins, and the
// delivered and read times are the first ones reported.
func FoldOutcomes(outcomes []domain.DeliveryOutcome) []domain.DeliveryUpdate {
	ordered := make([]domain.DeliveryOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReportedAt.Before(ordered[j].ReportedAt)
	})

	byID := make(map[string]*domain.DeliveryUpdate, len(ordered))
	for _, o := range ordered {
		u, ok := byID[o.ProviderMessageID]
		if !ok {
			u = &domain.DeliveryUpdate{ProviderMessageID: o.ProviderMessageID}
			byID[o.ProviderMessageID] = u
		}

		at := o.ReportedAt.UTC()
		u.AppointmentID = o.AppointmentID
		u.Status = o.Status
		u.LastUpdated = at
		if o.Status.ClearsWantNotify() {
			u.ClearWantNotify = true
		}
		if o.Status.IsDelivered() && u.DeliveredAt == nil {
			u.DeliveredAt = &at
		}
		if o.Status == domain.DeliveryRead && u.ReadAt == nil {
			u.ReadAt = &at
		}
	}

	updates := make([]domain.DeliveryUpdate, 0, len(byID))
	for _, u := range byID {
		updates = append(updates, *u)
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].ProviderMessageID < updates[j].ProviderMessageID
	})
	return updates
}

func providerMessageIDs(outcomes []domain.DeliveryOutcome) []string {
	seen := make(map[string]struct{}, len(outcomes))
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if _, ok := seen[o.ProviderMessageID]; ok {
			continue
		}
		seen[o.ProviderMessageID] = struct{}{}
		ids = append(ids, o.ProviderMessageID)
	}
	return ids
}
