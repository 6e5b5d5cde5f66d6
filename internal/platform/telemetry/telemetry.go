// Package telemetry exposes Prometheus metrics for the cardio service: HTTP
// server metrics, database pool gauges, and the outcome of every primary and
// mirror write reported by the coordinator.
package telemetry

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardio/cardio/internal/domain/record"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

// metricsOn returns whether metrics are enabled (defaults to true).
func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "cardio-server"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Outcome label values.
const (
	OutcomeSuccess          = "success"
	OutcomeValidation       = "validation"
	OutcomeNotFound         = "not_found"
	OutcomeConflict         = "conflict"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeFailure          = "failure"
)

// defaultDurationBuckets are the histogram bucket boundaries (in seconds)
// used for HTTP request duration.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// ---------------------------------------------------------------------------
// TelemetryProvider
// ---------------------------------------------------------------------------

// TelemetryProvider owns a private registry so tests can build as many
// providers as they like.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	primaryOps      *prometheus.CounterVec
	mirrorWrites    *prometheus.CounterVec
	poolConns       *prometheus.GaugeVec
	storeUp         *prometheus.GaugeVec
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "environment": cfg.Environment}

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cardio_http_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "cardio_http_active_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		primaryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardio_primary_operations_total",
			Help:        "Primary store write operations by entity, operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"entity", "op", "outcome"}),
		mirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardio_mirror_writes_total",
			Help:        "Secondary store write-through attempts by entity, operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"entity", "op", "outcome"}),
		poolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "cardio_db_pool_connections",
			Help:        "Primary store pool connections by state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		storeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "cardio_store_up",
			Help:        "1 when the store answered its last health probe.",
			ConstLabels: constLabels,
		}, []string{"store", "role"}),
	}

	tp.registry.MustRegister(
		tp.requestDuration,
		tp.activeRequests,
		tp.primaryOps,
		tp.mirrorWrites,
		tp.poolConns,
		tp.storeUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return tp
}

// Registry exposes the provider's registry for tests and custom collectors.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// ---------------------------------------------------------------------------
// Sync outcomes
// ---------------------------------------------------------------------------

// Outcome reduces an operation error to a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, record.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, record.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, record.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, record.ErrInsufficientData):
		return OutcomeInsufficientData
	default:
		return OutcomeFailure
	}
}

// SyncMetrics counts every primary and mirror write the coordinator reports.
type SyncMetrics struct {
	tp *TelemetryProvider
}

var _ record.FaultReporter = (*SyncMetrics)(nil)

func (tp *TelemetryProvider) SyncMetrics() *SyncMetrics {
	return &SyncMetrics{tp: tp}
}

func (m *SyncMetrics) ObservePrimary(entity, op string, err error) {
	m.tp.primaryOps.WithLabelValues(entity, op, Outcome(err)).Inc()
}

func (m *SyncMetrics) ObserveMirrorWrite(entity, op string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.tp.mirrorWrites.WithLabelValues(entity, op, outcome).Inc()
}

// ---------------------------------------------------------------------------
// HealthMetrics
// ---------------------------------------------------------------------------

// HealthMetricsRecorder provides methods to update health-related gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.poolConns.WithLabelValues("active").Set(float64(n))
}

func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.poolConns.WithLabelValues("idle").Set(float64(n))
}

// RecordHealth copies a health report into the store_up gauges. A disabled
// store is not reported.
func (h *HealthMetricsRecorder) RecordHealth(r record.HealthReport) {
	for _, s := range []record.StoreHealth{r.Primary, r.Secondary} {
		if s.Status == record.StoreDisabled {
			continue
		}
		up := 0.0
		if s.Status == record.StoreUp {
			up = 1
		}
		h.tp.storeUp.WithLabelValues(s.Store, s.Role).Set(up)
	}
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.activeRequests.Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				// let echo write the status before it is recorded
				c.Error(err)
			}

			tp.activeRequests.Dec()

			// Route pattern, not the actual path.
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			tp.requestDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves the provider's registry at /metrics.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{Registry: tp.registry}))
}
