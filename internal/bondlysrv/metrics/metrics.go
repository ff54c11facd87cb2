// Package metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeQuota    = "quota"
	OutcomeError    = "error"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry        *prometheus.Registry
	generations     *prometheus.CounterVec
	rateLimited     prometheus.Counter
	analyses        *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
	retentionDelete *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondly",
			Name:      "advice_generations_total",
			Help:      "Advice generation calls by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bondly",
			Name:      "llm_rate_limited_total",
			Help:      "Rate limited responses received from the generation API.",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondly",
			Name:      "analyses_total",
			Help:      "Session analyses by result code.",
		}, []string{"result"}),
		analyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bondly",
			Name:      "analyze_duration_seconds",
			Help:      "Time to analyze a session.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		retentionDelete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondly",
			Name:      "retention_deleted_rows_total",
			Help:      "Rows removed by the retention sweeper.",
		}, []string{"table"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondly",
			Name:      "retention_sweeps_total",
			Help:      "Retention sweeps by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.generations,
		m.rateLimited,
		m.analyses,
		m.analyzeDuration,
		m.retentionDelete,
		m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the collectors for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Generation counts one advice generation attempt.
func (m *Metrics) Generation(outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) Analysis(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(result).Inc()
	m.analyzeDuration.Observe(d.Seconds())
}

func (m *Metrics) RetentionDeleted(table string, n int64) {
	if m == nil {
		return
	}
	m.retentionDelete.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) Sweep(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}
