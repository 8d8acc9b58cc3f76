package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	computations *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	timeSources  *prometheus.CounterVec
	skipped      prometheus.Counter
	fetches      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analytics",
			Name:      "computations_total",
			Help:      "Metrics computations by scope and outcome.",
		}, []string{"scope", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analytics",
			Name:      "cache_lookups_total",
			Help:      "Cached metrics lookups by result (hit, miss).",
		}, []string{"result"}),
		timeSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analytics",
			Name:      "time_estimates_total",
			Help:      "Total-time calculations by the source of the estimate.",
		}, []string{"source"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "analytics",
			Name:      "skipped_answers_total",
			Help:      "Answers skipped during correctness counting (bad or out-of-range question id).",
		}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "analytics",
			Name:      "source_fetch_seconds",
			Help:      "Latency of activity component fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "outcome"}),
	}
	reg.MustRegister(
		m.computations,
		m.cacheLookups,
		m.timeSources,
		m.skipped,
		m.fetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Computation counts one finished computation.
func (m *Metrics) Computation(scope string, err error) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(scope, outcome(err)).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// TimeEstimate counts how a total time was obtained.
func (m *Metrics) TimeEstimate(source string) {
	if m == nil {
		return
	}
	m.timeSources.WithLabelValues(source).Inc()
}

// SkippedAnswers adds n skipped answers.
func (m *Metrics) SkippedAnswers(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.Add(float64(n))
}

// Fetch observes one upstream fetch.
func (m *Metrics) Fetch(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(endpoint, outcome(err)).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
