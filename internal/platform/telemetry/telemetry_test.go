package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio/cardio/internal/domain/record"
)

// ---------------------------------------------------------------------------
// Config defaults
// ---------------------------------------------------------------------------

func TestTelemetryConfig_Defaults(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})

	assert.Equal(t, "cardio-server", tp.cfg.ServiceName)
	assert.Equal(t, "development", tp.cfg.Environment)
	assert.True(t, tp.cfg.metricsOn())
}

func TestTelemetryConfig_MetricsDisabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	assert.False(t, tp.cfg.metricsOn())

	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, 0, testutil.CollectAndCount(tp.requestDuration))
}

// ---------------------------------------------------------------------------
// Sync outcomes
// ---------------------------------------------------------------------------

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{&record.ValidationError{Entity: record.EntityPatient}, OutcomeValidation},
		{&record.NotFoundError{Entity: record.EntityPatient, ID: 1}, OutcomeNotFound},
		{&record.ConflictError{Entity: record.EntityPatient, ID: 1}, OutcomeConflict},
		{&record.InsufficientDataError{PatientID: 1}, OutcomeInsufficientData},
		{errors.New("boom"), OutcomeFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err), "%v", tt.err)
	}
}

func TestSyncMetrics(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	m := tp.SyncMetrics()

	m.ObservePrimary(record.EntityPatient, "create", nil)
	m.ObservePrimary(record.EntityPatient, "create", &record.ConflictError{Entity: record.EntityPatient, ID: 1})
	m.ObserveMirrorWrite(record.EntityPatient, "insert", nil)
	m.ObserveMirrorWrite(record.EntityPatient, "insert", errors.New("no reachable servers"))
	m.ObserveMirrorWrite(record.EntityPatient, "insert", errors.New("no reachable servers"))

	assert.Equal(t, 1.0, testutil.ToFloat64(tp.primaryOps.WithLabelValues("patient", "create", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tp.primaryOps.WithLabelValues("patient", "create", OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tp.mirrorWrites.WithLabelValues("patient", "insert", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(tp.mirrorWrites.WithLabelValues("patient", "insert", OutcomeFailure)))
}

// ---------------------------------------------------------------------------
// HealthMetrics
// ---------------------------------------------------------------------------

func TestHealthMetrics(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	h := tp.HealthMetrics()

	h.SetDBPoolActive(3)
	h.SetDBPoolIdle(7)
	h.RecordHealth(record.HealthReport{
		Primary:   record.StoreHealth{Store: "postgresql", Role: record.RolePrimary, Status: record.StoreUp},
		Secondary: record.StoreHealth{Store: "mongodb", Role: record.RoleSecondary, Status: record.StoreDown},
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(tp.poolConns.WithLabelValues("active")))
	assert.Equal(t, 7.0, testutil.ToFloat64(tp.poolConns.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tp.storeUp.WithLabelValues("postgresql", record.RolePrimary)))
	assert.Equal(t, 0.0, testutil.ToFloat64(tp.storeUp.WithLabelValues("mongodb", record.RoleSecondary)))

	h.RecordHealth(record.HealthReport{
		Primary:   record.StoreHealth{Store: "postgresql", Role: record.RolePrimary, Status: record.StoreUp},
		Secondary: record.StoreHealth{Role: record.RoleSecondary, Status: record.StoreDisabled},
	})
	assert.Equal(t, 2, testutil.CollectAndCount(tp.storeUp))
}

// ---------------------------------------------------------------------------
// Middleware and exposition
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no patient")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, testutil.CollectAndCount(tp.requestDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(tp.activeRequests))
}

func TestPrometheusHandler(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	tp.SyncMetrics().ObserveMirrorWrite(record.EntityDiagnosis, "update", errors.New("timeout"))

	e := echo.New()
	e.GET("/metrics", tp.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "cardio_mirror_writes_total"), "missing mirror counter")
	assert.Contains(t, body, `entity="diagnosis"`)
	assert.Contains(t, body, `outcome="failure"`)
	assert.Contains(t, body, "go_goroutines")
}
