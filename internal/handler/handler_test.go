package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/service"
	"github.com/kursadbilgin/practice-sync/internal/testutil"
	"github.com/kursadbilgin/practice-sync/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestDeliveryOutcomes(t *testing.T) {
	t.Parallel()

	var got []domain.DeliveryOutcome
	var gotCorrelationID string
	reconciler := &stubReconciler{applyFn: func(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error) {
		got = outcomes
		gotCorrelationID, _ = observability.CorrelationIDFromContext(ctx)
		return service.ReconcileResult{Received: len(outcomes), Applied: 1, Invalid: 1, Updated: 1}, nil
	}}
	app := newTestApp(t)
	if err := RegisterDeliveryRoutes(app, reconciler); err != nil {
		t.Fatalf("RegisterDeliveryRoutes() error = %v", err)
	}

	body := `[
		{"providerMessageId":" m-1 ","status":"read","reportedAt":"2026-10-18T09:10:00+02:00"},
		{"providerMessageId":"m-2","status":"bounced","reportedAt":"2026-10-18T09:11:00Z"}
	]`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/delivery-outcomes", body, map[string]string{
		fiber.HeaderXRequestID: "req-42",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, respBody)
	}

	if len(got) != 2 {
		t.Fatalf("reconciler received %d outcomes, want 2", len(got))
	}
	if got[0].ProviderMessageID != "m-1" || got[0].Status != domain.DeliveryRead {
		t.Fatalf("outcome[0] = %+v", got[0])
	}
	if !got[0].ReportedAt.Equal(time.Date(2026, 10, 18, 7, 10, 0, 0, time.UTC)) || got[0].ReportedAt.Location() != time.UTC {
		t.Fatalf("reportedAt = %s, want UTC", got[0].ReportedAt)
	}
	if got[1].Status.IsValid() {
		t.Fatalf("outcome[1] status = %s, want passed through as invalid", got[1].Status)
	}
	if gotCorrelationID != "req-42" {
		t.Fatalf("correlation id = %q, want req-42", gotCorrelationID)
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["received"] != float64(2) || parsed["invalid"] != float64(1) {
		t.Fatalf("response = %v", parsed)
	}
}

func TestDeliveryOutcomesRejectsBadBatches(t *testing.T) {
	t.Parallel()

	reconciler := &stubReconciler{applyFn: func(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error) {
		t.Fatal("Apply() should not be called")
		return service.ReconcileResult{}, nil
	}}
	app := newTestApp(t)
	if err := RegisterDeliveryRoutes(app, reconciler); err != nil {
		t.Fatalf("RegisterDeliveryRoutes() error = %v", err)
	}

	oversized := make([]string, maxOutcomesPerRequest+1)
	for i := range oversized {
		oversized[i] = fmt.Sprintf(`{"providerMessageId":"m-%d","status":"READ","reportedAt":"2026-10-18T09:00:00Z"}`, i)
	}

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `[{"providerMessageId":`},
		{name: "object instead of array", body: `{"providerMessageId":"m-1"}`},
		{name: "empty array", body: `[]`},
		{name: "too many outcomes", body: "[" + strings.Join(oversized, ",") + "]"},
	}
	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPost, "/v1/delivery-outcomes", tt.body, nil)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", tt.name, resp.StatusCode, body)
		}
	}
}

func TestDeliveryOutcomesStorageFailure(t *testing.T) {
	t.Parallel()

	reconciler := &stubReconciler{applyFn: func(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error) {
		return service.ReconcileResult{}, errors.New("connection reset")
	}}
	app := newTestApp(t)
	if err := RegisterDeliveryRoutes(app, reconciler); err != nil {
		t.Fatalf("RegisterDeliveryRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/v1/delivery-outcomes",
		`[{"providerMessageId":"m-1","status":"READ","reportedAt":"2026-10-18T09:00:00Z"}]`, nil)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(body), "connection reset") {
		t.Fatalf("body leaks internal error: %s", body)
	}
}

func TestReminderAnalytics(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*60*60)
	var gotFrom, gotTo time.Time
	stats := &stubAnalytics{statsFn: func(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error) {
		gotFrom, gotTo = from, to
		s := &domain.ReminderStats{From: from, To: to, Total: 10, Sent: 8, Delivered: 6, Read: 2}
		s.ComputeReadRate()
		return s, nil
	}}
	app := newTestApp(t)
	if err := RegisterAnalyticsRoutes(app, stats, loc); err != nil {
		t.Fatalf("RegisterAnalyticsRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/analytics/reminders?from=2026-10-01&to=2026-10-31", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	if !gotFrom.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, loc)) || !gotTo.Equal(time.Date(2026, 11, 1, 0, 0, 0, 0, loc)) {
		t.Fatalf("range = [%s, %s), want inclusive local October", gotFrom, gotTo)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["sent"] != float64(8) || parsed["readRatePercent"] != float64(25) || parsed["to"] != "2026-10-31" {
		t.Fatalf("response = %v", parsed)
	}
}

func TestReminderAnalyticsValidation(t *testing.T) {
	t.Parallel()

	stats := &stubAnalytics{}
	app := newTestApp(t)
	if err := RegisterAnalyticsRoutes(app, stats, time.UTC); err != nil {
		t.Fatalf("RegisterAnalyticsRoutes() error = %v", err)
	}

	for _, query := range []string{
		"",
		"?from=2026-10-01",
		"?from=10/01/2026&to=2026-10-31",
		"?from=2026-10-31&to=2026-10-01",
		"?from=2024-01-01&to=2026-10-01",
	} {
		resp, body := performRequest(t, app, http.MethodGet, "/v1/analytics/reminders"+query, "", nil)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("query %q: status = %d, want 400, body=%s", query, resp.StatusCode, body)
		}
	}
}

func TestReplicationStatus(t *testing.T) {
	t.Parallel()

	updatedAt := time.Date(2026, 10, 18, 11, 45, 0, 0, time.UTC)
	controller := &stubReplication{statusFn: func(ctx context.Context) (service.ReplicationStatus, error) {
		return service.ReplicationStatus{
			MirrorName: "primary-mirror",
			Cursor: domain.ReplicationCursor{
				MirrorName: "primary-mirror",
				Position:   domain.ReplicationPosition{ActionDate: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), DailySequence: 40},
				UpdatedAt:  updatedAt,
			},
			LogHead:           domain.ReplicationPosition{ActionDate: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), DailySequence: 42},
			Enabled:           true,
			PollInterval:      15 * time.Minute,
			LookbackWindow:    24 * time.Hour,
			MaxRecordsPerPoll: 500,
		}, nil
	}}
	app := newTestApp(t)
	if err := RegisterReplicationRoutes(app, controller); err != nil {
		t.Fatalf("RegisterReplicationRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/replication/status", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		Cursor struct {
			ActionDate    string `json:"actionDate"`
			DailySequence int64  `json:"dailySequence"`
		} `json:"cursor"`
		LogHead struct {
			DailySequence int64 `json:"dailySequence"`
		} `json:"logHead"`
		PollIntervalMinutes int `json:"pollIntervalMinutes"`
		LookbackHours       int `json:"lookbackHours"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Cursor.ActionDate != "2026-10-18" || parsed.Cursor.DailySequence != 40 || parsed.LogHead.DailySequence != 42 {
		t.Fatalf("response = %s", body)
	}
	if parsed.PollIntervalMinutes != 15 || parsed.LookbackHours != 24 {
		t.Fatalf("settings = %s", body)
	}
}

func TestReplicationPoll(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		result     service.PollResult
		err        error
		wantStatus int
		wantWarn   bool
	}{
		{
			name:       "shipped",
			result:     service.PollResult{Fetched: 3, Shipped: 3, To: domain.ReplicationPosition{ActionDate: day, DailySequence: 3}},
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "partial",
			result:     service.PollResult{Fetched: 3, Shipped: 1, Partial: true},
			err:        fmt.Errorf("%w: record 2", domain.ErrMirrorRejected),
			wantStatus: fiber.StatusOK,
			wantWarn:   true,
		},
		{
			name:       "rejected first record",
			result:     service.PollResult{Fetched: 3, Partial: true},
			err:        fmt.Errorf("%w: record 1", domain.ErrMirrorRejected),
			wantStatus: fiber.StatusBadGateway,
		},
		{
			name:       "storage failure",
			err:        errors.New("database unavailable"),
			wantStatus: fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			controller := &stubReplication{pollFn: func(ctx context.Context) (service.PollResult, error) {
				return tt.result, tt.err
			}}
			app := newTestApp(t)
			if err := RegisterReplicationRoutes(app, controller); err != nil {
				t.Fatalf("RegisterReplicationRoutes() error = %v", err)
			}

			resp, body := performRequest(t, app, http.MethodPost, "/v1/replication/poll", "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if hasWarning := strings.Contains(string(body), `"warning"`); hasWarning != tt.wantWarn {
				t.Fatalf("warning present = %v, want %v, body=%s", hasWarning, tt.wantWarn, body)
			}
		})
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t)
		RegisterHealthRoutes(app, nil, nil, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB, err := testutil.NewSQLiteDB(t).DB()
		if err != nil {
			t.Fatalf("DB() error = %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		app := newTestApp(t)
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{healthy: true})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
		}
		if !strings.Contains(string(body), `"rabbitmq":"ok"`) {
			t.Fatalf("body = %s, want rabbitmq check", body)
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		sqlDB, err := testutil.NewSQLiteDB(t).DB()
		if err != nil {
			t.Fatalf("DB() error = %v", err)
		}
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis.Run() error = %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		t.Cleanup(func() { _ = rdb.Close() })
		mr.Close()

		app := newTestApp(t)
		RegisterHealthRoutes(app, sqlDB, rdb, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", nil)
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, body)
		}
		if !strings.Contains(string(body), `"redis":"down"`) || strings.Contains(string(body), "rabbitmq") {
			t.Fatalf("body = %s", body)
		}
	})
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return transport.NewApp(zap.NewNop(), nil)
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubReconciler struct {
	applyFn func(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error)
}

func (s *stubReconciler) Apply(ctx context.Context, outcomes []domain.DeliveryOutcome) (service.ReconcileResult, error) {
	return s.applyFn(ctx, outcomes)
}

type stubAnalytics struct {
	statsFn func(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error)
}

func (s *stubAnalytics) ReminderStats(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, from, to)
	}
	return nil, errors.New("not implemented")
}

type stubReplication struct {
	statusFn func(ctx context.Context) (service.ReplicationStatus, error)
	pollFn   func(ctx context.Context) (service.PollResult, error)
}

func (s *stubReplication) Status(ctx context.Context) (service.ReplicationStatus, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx)
	}
	return service.ReplicationStatus{}, errors.New("not implemented")
}

func (s *stubReplication) Poll(ctx context.Context) (service.PollResult, error) {
	if s.pollFn != nil {
		return s.pollFn(ctx)
	}
	return service.PollResult{}, errors.New("not implemented")
}

type stubBroker struct {
	healthy bool
}

func (b stubBroker) Healthy() bool { return b.healthy }
