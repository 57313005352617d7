// Package metrics holds the Prometheus collectors for the try-on pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "tryon"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry    *prom.Registry
	submissions *prom.CounterVec
	callbacks   *prom.CounterVec
	tryOns      *prom.CounterVec
	external    *prom.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		submissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "submissions_total",
			Help:      "tune submissions by record kind and outcome",
		}, []string{"kind", "outcome"}),
		callbacks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "callbacks_total",
			Help:      "tuning callbacks by reconciliation outcome",
		}, []string{"outcome"}),
		tryOns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "tryon_requests_total",
			Help:      "try-on requests by outcome",
		}, []string{"outcome"}),
		external: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: promNamespace,
			Name:      "external_request_duration_seconds",
			Help:      "timings for calls to the external tuning service",
			Buckets:   prom.DefBuckets,
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.callbacks,
		m.tryOns,
		m.external,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Submission(kind, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TryOn(outcome string) {
	if m == nil {
		return
	}
	m.tryOns.WithLabelValues(outcome).Inc()
}

// ObserveDuration records how long one external call took.
func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.external.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prom.Registry {
	return m.registry
}
