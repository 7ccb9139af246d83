package obs

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/abc-engine/costing"
)

// Metrics groups the Prometheus collectors of the engine and the HTTP layer.
// It implements costing.Metrics.
type Metrics struct {
	Recalculations   *prometheus.CounterVec
	RecalcDuration   prometheus.Histogram
	Degradations     *prometheus.CounterVec
	LastRecalculated *prometheus.GaugeVec
	ReqTotal         *prometheus.CounterVec
	ReqDur           *prometheus.HistogramVec
}

var _ costing.Metrics = (*Metrics)(nil)

// NewMetrics creates and registers the collectors. A nil registerer uses
// the default one; collectors already registered there are reused.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Recalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_recalculations_total",
			Help:      "Client allocation recalculations by outcome.",
		}, []string{"result"}),
		RecalcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "period_recalculation_duration_ms",
			Help:      "Duration of period recalculation batches in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		Degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_degradations_total",
			Help:      "Degraded inputs (missing contract, rate or hours) by reason.",
		}, []string{"reason"}),
		LastRecalculated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "period_last_recalculated_timestamp_seconds",
			Help:      "Unix time of the last recalculation per period.",
		}, []string{"period"}),
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route"}),
	}

	m.Recalculations = register(reg, m.Recalculations)
	m.RecalcDuration = register(reg, m.RecalcDuration)
	m.Degradations = register(reg, m.Degradations)
	m.LastRecalculated = register(reg, m.LastRecalculated)
	m.ReqTotal = register(reg, m.ReqTotal)
	m.ReqDur = register(reg, m.ReqDur)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}

func (m *Metrics) ObserveRecalculation(p costing.Period, succeeded, failed int, took time.Duration) {
	m.Recalculations.WithLabelValues("succeeded").Add(float64(succeeded))
	m.Recalculations.WithLabelValues("failed").Add(float64(failed))
	m.RecalcDuration.Observe(float64(took) / float64(time.Millisecond))
	m.LastRecalculated.WithLabelValues(p.String()).SetToCurrentTime()
}

func (m *Metrics) ObserveDegradation(reason costing.DegradationReason) {
	m.Degradations.WithLabelValues(string(reason)).Inc()
}

// Middleware counts requests and their latency by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		m.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
		m.ReqDur.WithLabelValues(r.Method, route).Observe(float64(time.Since(start)) / float64(time.Millisecond))
	})
}
