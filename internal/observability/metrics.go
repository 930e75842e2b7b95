package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "practice_sync"

// Metrics stores Prometheus collectors used by the API, the replication poller
// and the reminder pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	actionAppendsTotal      *prometheus.CounterVec
	sequenceConflictsTotal  prometheus.Counter
	replicationPollsTotal   *prometheus.CounterVec
	replicationShippedTotal prometheus.Counter
	replicationBatchSize    prometheus.Histogram
	dispatchTotal           *prometheus.CounterVec
	providerSendDuration    prometheus.Histogram
	breakerState            prometheus.Gauge
	reconcileOutcomesTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		actionAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_log_appends_total",
				Help:      "Total number of action log entries appended by action type.",
			},
			[]string{"action_type"},
		),
		sequenceConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_log_sequence_conflicts_total",
				Help:      "Total number of daily sequence conflicts that were retried.",
			},
		),
		replicationPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replication_polls_total",
				Help:      "Total number of replication poll runs by result.",
			},
			[]string{"result"},
		),
		replicationShippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replication_records_confirmed_total",
				Help:      "Total number of action log entries confirmed by the mirror.",
			},
		),
		replicationBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replication_batch_size",
				Help:      "Number of entries read per replication poll.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
			},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_dispatched_total",
				Help:      "Total number of reminder dispatches by outcome.",
			},
			[]string{"outcome"},
		),
		providerSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_send_duration_seconds",
				Help:      "SMS provider send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Provider circuit breaker state: 0 closed, 1 open, 2 half-open.",
			},
		),
		reconcileOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_outcomes_total",
				Help:      "Total number of delivery outcomes received by reconciliation result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.actionAppendsTotal,
		m.sequenceConflictsTotal,
		m.replicationPollsTotal,
		m.replicationShippedTotal,
		m.replicationBatchSize,
		m.dispatchTotal,
		m.providerSendDuration,
		m.breakerState,
		m.reconcileOutcomesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncActionAppended(actionType string) {
	if m == nil {
		return
	}
	m.actionAppendsTotal.WithLabelValues(normalizeLabel(actionType)).Inc()
}

func (m *Metrics) IncSequenceConflict() {
	if m == nil {
		return
	}
	m.sequenceConflictsTotal.Inc()
}

// ObservePoll records one replication poll. fetched is the number of entries
// read and confirmed the number the mirror accepted.
func (m *Metrics) ObservePoll(result string, fetched, confirmed int) {
	if m == nil {
		return
	}
	m.replicationPollsTotal.WithLabelValues(normalizeLabel(result)).Inc()
	if fetched > 0 {
		m.replicationBatchSize.Observe(float64(fetched))
	}
	if confirmed > 0 {
		m.replicationShippedTotal.Add(float64(confirmed))
	}
}

func (m *Metrics) IncDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveProviderSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.Observe(seconds)
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Metrics) AddDeliveryOutcomes(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileOutcomesTotal.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
