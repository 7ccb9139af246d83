package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/obs"
)

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := obs.NewLoggerTo(&buf, "json", "warn")

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	log = obs.NewLoggerTo(&buf, "json", "nonsense")
	log.Info().Msg("fallback")
	assert.Contains(t, buf.String(), "fallback", "unknown level falls back to info")
}

func TestRequestLogger(t *testing.T) {
	// GIVEN: A router with a parameterized route
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(obs.RequestLogger(obs.NewLoggerTo(&buf, "json", "info")))
	r.Get("/api/allocations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// WHEN
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/allocations/a1", nil))

	// THEN: The line carries the route pattern, not the raw path only
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line["message"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/api/allocations/{id}", line["route"])
	assert.Equal(t, "/api/allocations/a1", line["path"])
	assert.EqualValues(t, 404, line["status"])
}

func TestMetrics_EngineObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics("abc", reg)
	jan := costing.Period{Year: 2025, Month: time.January}

	m.ObserveRecalculation(jan, 3, 1, 20*time.Millisecond)
	m.ObserveDegradation(costing.DegradedNoContract)
	m.ObserveDegradation(costing.DegradedNoContract)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Recalculations.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recalculations.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Degradations.WithLabelValues("no_contract")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecalcDuration))
	assert.Positive(t, testutil.ToFloat64(m.LastRecalculated.WithLabelValues("2025-01")))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := obs.NewMetrics("abc", reg)
	second := obs.NewMetrics("abc", reg)

	second.ObserveDegradation(costing.DegradedMissingRate)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Degradations.WithLabelValues("missing_rate")))
}

func TestMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics("abc", reg)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReqTotal.WithLabelValues(http.MethodGet, "/healthz", "204")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ReqDur))
}
