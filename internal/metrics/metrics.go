// Package metrics exposes a Prometheus /metrics scrape endpoint alongside
// the OTel push-metrics pipeline in internal/otelinit. Run outcomes and
// phase durations are recorded here only; this is the pull half, filling in a route the teacher's own
// InitMetrics never actually wired (its promHandler cast was always nil).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed on /metrics. The engine
// records RunsTotal and PhaseDuration via ObserveRun; CallbackRetries and
// CallbackFailures are registered and exposed but nothing increments them.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	CallbackRetries  prometheus.Counter
	CallbackFailures prometheus.Counter
}

// New registers a fresh instrument set on its own registry so repeated
// construction in tests never collides with the process-default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "artemis_runs_total",
			Help: "Total number of task runs by terminal status.",
		}, []string{"status", "task_code"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artemis_phase_duration_ms",
			Help:    "Per-phase lifecycle duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"phase"}),
		CallbackRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "artemis_callback_retries_total",
			Help: "Number of finalize-callback retry attempts.",
		}),
		CallbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "artemis_callback_failures_total",
			Help: "Number of finalize-callback attempts abandoned after exhausting retries.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a terminal run outcome, including its per-phase
// durations read out of stats.phase_durations_ms.
func (m *Metrics) ObserveRun(status, taskCode string, phaseDurationsMs map[string]any) {
	m.RunsTotal.WithLabelValues(status, taskCode).Inc()
	for phase, v := range phaseDurationsMs {
		if ms, ok := asFloat(v); ok {
			m.PhaseDuration.WithLabelValues(phase).Observe(ms)
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
