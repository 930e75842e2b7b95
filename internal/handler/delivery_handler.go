package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/service"
)

const maxOutcomesPerRequest = 1000

type DeliveryReconciler interface {
	Apply(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error)
}

// DeliveryHandler ingests delivery outcome webhooks from the SMS provider.
type DeliveryHandler struct {
	reconciler DeliveryReconciler
}

func NewDeliveryHandler(reconciler DeliveryReconciler) (*DeliveryHandler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("status reconciler is required")
	}
	return &DeliveryHandler{reconciler: reconciler}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, reconciler DeliveryReconciler) error {
	h, err := NewDeliveryHandler(reconciler)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/delivery-outcomes", h.ReceiveOutcomes)

	return nil
}

type deliveryOutcomeRequest struct {
	ProviderMessageID string    `json:"providerMessageId"`
	AppointmentID     string    `json:"appointmentId,omitempty"`
	Status            string    `json:"status"`
	ReportedAt        time.Time `json:"reportedAt"`
}

// ReceiveOutcomes applies one webhook body as a single reconciliation batch.
// Individual bad entries are counted as invalid rather than failing the batch.
func (h *DeliveryHandler) ReceiveOutcomes(c *fiber.Ctx) error {
	var req []deliveryOutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req) == 0 {
		return toHTTPError(fmt.Errorf("%w: at least one outcome is required", domain.ErrValidation))
	}
	if len(req) > maxOutcomesPerRequest {
		return toHTTPError(fmt.Errorf("%w: at most %d outcomes per request", domain.ErrValidation, maxOutcomesPerRequest))
	}

	ctx, correlationID := observability.EnsureCorrelationID(c.UserContext(), requestCorrelationID(c))
	c.SetUserContext(ctx)
	c.Set(fiber.HeaderXRequestID, correlationID)

	outcomes := make([]domain.DeliveryOutcome, 0, len(req))
	for _, item := range req {
		outcomes = append(outcomes, domain.DeliveryOutcome{
			AppointmentID:     strings.TrimSpace(item.AppointmentID),
			ProviderMessageID: strings.TrimSpace(item.ProviderMessageID),
			Status:            domain.DeliveryStatus(strings.ToUpper(strings.TrimSpace(item.Status))),
			ReportedAt:        item.ReportedAt.UTC(),
		})
	}

	result, err := h.reconciler.Apply(ctx, outcomes)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
