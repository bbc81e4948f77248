// Package metrics holds the Prometheus collectors of the engine. Each
// Metrics value owns its registry so tests and multiple engines never share
// global collector state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calsync"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups every collector
type Metrics struct {
	registry *prometheus.Registry

	providerCalls     *prometheus.HistogramVec
	discoveryLookups  *prometheus.CounterVec
	healthChecks      *prometheus.CounterVec
	healthTransitions *prometheus.CounterVec
	calendarFetches   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of calendar provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "provider", "outcome"}),
		discoveryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_cache_lookups_total",
			Help:      "Discovery cache lookups by result.",
		}, []string{"provider", "result"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Health checks by kind and failure class.",
		}, []string{"kind", "class"}),
		healthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Health status transitions.",
		}, []string{"from", "to"}),
		calendarFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_fetches_total",
			Help:      "Per-calendar fetches in multi-calendar reads.",
		}, []string{"provider", "outcome"}),
	}

	m.registry.MustRegister(
		m.providerCalls,
		m.discoveryLookups,
		m.healthChecks,
		m.healthTransitions,
		m.calendarFetches,
		prometheus.NewGoCollector(),
	)
	return m
}

// ObserveProviderCall records one provider call
func (m *Metrics) ObserveProviderCall(operation, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(operation, provider, outcome(err)).Observe(d.Seconds())
}

// DiscoveryLookup records a cache hit or miss
func (m *Metrics) DiscoveryLookup(provider string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.discoveryLookups.WithLabelValues(provider, result).Inc()
}

// HealthCheck records one completed check
func (m *Metrics) HealthCheck(kind, class string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(kind, class).Inc()
}

// HealthTransition records a status change
func (m *Metrics) HealthTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.healthTransitions.WithLabelValues(from, to).Inc()
}

// CalendarFetch records one calendar of a multi-calendar read
func (m *Metrics) CalendarFetch(provider string, err error) {
	if m == nil {
		return
	}
	m.calendarFetches.WithLabelValues(provider, outcome(err)).Inc()
}

// Registry exposes the registry, e.g. for testutil
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
