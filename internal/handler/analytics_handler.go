package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/practice-sync/internal/domain"
)

const maxAnalyticsRangeDays = 366

type ReminderAnalytics interface {
	ReminderStats(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error)
}

type AnalyticsHandler struct {
	stats    ReminderAnalytics
	location *time.Location
}

func NewAnalyticsHandler(stats ReminderAnalytics, location *time.Location) (*AnalyticsHandler, error) {
	if stats == nil {
		return nil, fmt.Errorf("reminder analytics source is required")
	}
	if location == nil {
		location = time.UTC
	}
	return &AnalyticsHandler{stats: stats, location: location}, nil
}

func RegisterAnalyticsRoutes(router fiber.Router, stats ReminderAnalytics, location *time.Location) error {
	h, err := NewAnalyticsHandler(stats, location)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/analytics/reminders", h.GetReminderStats)

	return nil
}

type reminderStatsResponse struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Total           int64   `json:"total"`
	Sent            int64   `json:"sent"`
	Delivered       int64   `json:"delivered"`
	Read            int64   `json:"read"`
	ReadRatePercent float64 `json:"readRatePercent"`
}

// GetReminderStats reports reminder delivery for appointments scheduled
// between from and to, both inclusive practice-local dates.
func (h *AnalyticsHandler) GetReminderStats(c *fiber.Ctx) error {
	from, err := h.parseDateQuery(c.Query("from"), "from")
	if err != nil {
		return toHTTPError(err)
	}
	to, err := h.parseDateQuery(c.Query("to"), "to")
	if err != nil {
		return toHTTPError(err)
	}
	if to.Before(from) {
		return toHTTPError(fmt.Errorf("%w: to must not be before from", domain.ErrValidation))
	}
	if to.Sub(from) > maxAnalyticsRangeDays*24*time.Hour {
		return toHTTPError(fmt.Errorf("%w: range must not exceed %d days", domain.ErrValidation, maxAnalyticsRangeDays))
	}

	stats, err := h.stats.ReminderStats(c.UserContext(), from, to.AddDate(0, 0, 1))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(reminderStatsResponse{
		From:            from.Format(time.DateOnly),
		To:              to.Format(time.DateOnly),
		Total:           stats.Total,
		Sent:            stats.Sent,
		Delivered:       stats.Delivered,
		Read:            stats.Read,
		ReadRatePercent: stats.ReadRatePercent,
	})
}

func (h *AnalyticsHandler) parseDateQuery(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}

	t, err := time.ParseInLocation(time.DateOnly, trimmed, h.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrValidation, field)
	}
	return t, nil
}
