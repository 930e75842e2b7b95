package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/service"
)

type ReplicationController interface {
	Status(ctx context.Context) (service.ReplicationStatus, error)
	Poll(ctx context.Context) (service.PollResult, error)
}

type ReplicationHandler struct {
	controller ReplicationController
}

func NewReplicationHandler(controller ReplicationController) (*ReplicationHandler, error) {
	if controller == nil {
		return nil, fmt.Errorf("replication controller is required")
	}
	return &ReplicationHandler{controller: controller}, nil
}

func RegisterReplicationRoutes(router fiber.Router, controller ReplicationController) error {
	h, err := NewReplicationHandler(controller)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/replication/status", h.GetStatus)
	v1.Post("/replication/poll", h.TriggerPoll)

	return nil
}

type positionResponse struct {
	ActionDate    string `json:"actionDate,omitempty"`
	DailySequence int64  `json:"dailySequence"`
}

type replicationStatusResponse struct {
	MirrorName          string           `json:"mirrorName"`
	Cursor              positionResponse `json:"cursor"`
	CursorUpdatedAt     *time.Time       `json:"cursorUpdatedAt,omitempty"`
	LogHead             positionResponse `json:"logHead"`
	MirrorHead          string           `json:"mirrorHead,omitempty"`
	Enabled             bool             `json:"enabled"`
	PollIntervalMinutes int              `json:"pollIntervalMinutes"`
	LookbackHours       int              `json:"lookbackHours"`
	MaxRecordsPerPoll   int              `json:"maxRecordsPerPoll"`
}

type pollResponse struct {
	Skipped  bool             `json:"skipped"`
	Disabled bool             `json:"disabled"`
	Fetched  int              `json:"fetched"`
	Shipped  int              `json:"shipped"`
	From     positionResponse `json:"from"`
	To       positionResponse `json:"to"`
	Partial  bool             `json:"partial"`
	Warning  string           `json:"warning,omitempty"`
}

func (h *ReplicationHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.controller.Status(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	resp := replicationStatusResponse{
		MirrorName:          status.MirrorName,
		Cursor:              toPositionResponse(status.Cursor.Position),
		LogHead:             toPositionResponse(status.LogHead),
		MirrorHead:          status.MirrorHead,
		Enabled:             status.Enabled,
		PollIntervalMinutes: int(status.PollInterval / time.Minute),
		LookbackHours:       int(status.LookbackWindow / time.Hour),
		MaxRecordsPerPoll:   status.MaxRecordsPerPoll,
	}
	if !status.Cursor.UpdatedAt.IsZero() {
		updatedAt := status.Cursor.UpdatedAt
		resp.CursorUpdatedAt = &updatedAt
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// TriggerPoll runs one replication poll synchronously. A partially shipped
// batch still answers 200 with a warning since the cursor moved.
func (h *ReplicationHandler) TriggerPoll(c *fiber.Ctx) error {
	result, err := h.controller.Poll(c.UserContext())
	resp := pollResponse{
		Skipped:  result.Skipped,
		Disabled: result.Disabled,
		Fetched:  result.Fetched,
		Shipped:  result.Shipped,
		From:     toPositionResponse(result.From),
		To:       toPositionResponse(result.To),
		Partial:  result.Partial,
	}
	if err != nil {
		if !errors.Is(err, domain.ErrMirrorRejected) || result.Shipped == 0 {
			return toHTTPError(err)
		}
		resp.Warning = err.Error()
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func toPositionResponse(p domain.ReplicationPosition) positionResponse {
	if p.IsZero() {
		return positionResponse{}
	}
	return positionResponse{
		ActionDate:    p.ActionDate.Format(time.DateOnly),
		DailySequence: p.DailySequence,
	}
}
