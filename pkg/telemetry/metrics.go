package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the decision server.
type Metrics struct {
	evaluationsTotal *prometheus.CounterVec
	evaluationErrors *prometheus.CounterVec
	decisionStates   *prometheus.CounterVec
	evalDuration     *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	reloadsTotal  *prometheus.CounterVec
	revisionsHeld prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_evaluations_total",
				Help: "Total evaluation requests by policy and outcome",
			},
			[]string{"namespace", "policy", "outcome"},
		),

		evaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_evaluation_errors_total",
				Help: "Rule evaluation failures by policy",
			},
			[]string{"namespace", "policy"},
		),

		decisionStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_decision_states_total",
				Help: "Decided rule states by trinary outcome",
			},
			[]string{"state"},
		),

		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_evaluation_duration_seconds",
				Help:    "Evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"namespace", "policy"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_cache_lookups_total",
				Help: "Memoization cache lookups by result",
			},
			[]string{"result"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_pack_reloads_total",
				Help: "Program pack reloads by result",
			},
			[]string{"result"},
		),

		revisionsHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbiter_revisions_held",
				Help: "Program revisions currently retained in the store",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_http_requests_total",
				Help: "HTTP requests by path, method and status code",
			},
			[]string{"path", "method", "code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationErrors,
		m.decisionStates,
		m.evalDuration,
		m.cacheLookups,
		m.reloadsTotal,
		m.revisionsHeld,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	m.registry = registry
	return m
}

// RecordEvaluation records one evaluation request and its latency.
func (m *Metrics) RecordEvaluation(namespace, policy, outcome string, d time.Duration) {
	m.evaluationsTotal.WithLabelValues(namespace, policy, outcome).Inc()
	m.evalDuration.WithLabelValues(namespace, policy).Observe(d.Seconds())
}

// RecordRuleErrors records per-rule failures within a request.
func (m *Metrics) RecordRuleErrors(namespace, policy string, n int) {
	if n > 0 {
		m.evaluationErrors.WithLabelValues(namespace, policy).Add(float64(n))
	}
}

// RecordDecisionState records one decided trinary state.
func (m *Metrics) RecordDecisionState(state string) {
	m.decisionStates.WithLabelValues(state).Inc()
}

// RecordCacheLookup records one memoization cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordReload records a pack reload attempt.
func (m *Metrics) RecordReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}

// SetRevisionsHeld reports how many revisions the store retains.
func (m *Metrics) SetRevisionsHeld(n int) {
	m.revisionsHeld.Set(float64(n))
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(path, method, code string, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(path, method, code).Inc()
	m.httpRequestDuration.WithLabelValues(path, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
