// Package metrics provides Prometheus metrics for session and token lifecycle events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dashauth.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled bool

	// Auth state machine
	authOperationsTotal *prometheus.CounterVec

	// Token store
	storeRepairsTotal  *prometheus.CounterVec
	storeFailuresTotal *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec

	// Session engine
	sessionTransitionsTotal *prometheus.CounterVec
	refreshDuration         *prometheus.HistogramVec

	// Route guard
	guardDecisionsTotal *prometheus.CounterVec

	// Backend client
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
}

// Option configures Metrics.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	namespace  string
}

// WithRegisterer registers the collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithNamespace sets the metric name prefix. Default: "dashauth".
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, opts ...Option) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}

	o := options{registerer: prometheus.DefaultRegisterer, namespace: "dashauth"}
	for _, opt := range opts {
		opt(&o)
	}
	f := promauto.With(o.registerer)

	m.authOperationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "auth_operations_total",
		Help:      "Auth state machine operations by result",
	}, []string{"op", "result"})

	m.storeRepairsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "token_store_repairs_total",
		Help:      "Token store reconciliations that rewrote a stale store",
	}, []string{"store"})

	m.storeFailuresTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "token_store_failures_total",
		Help:      "Token store operations that failed on one store",
	}, []string{"store", "op"})

	m.invalidationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "token_invalidations_total",
		Help:      "Tokens dropped without a logout",
	}, []string{"reason"})

	m.sessionTransitionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "session_transitions_total",
		Help:      "Session engine state transitions",
	}, []string{"from", "to"})

	m.refreshDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Name:      "session_refresh_duration_seconds",
		Help:      "Token refresh duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	m.guardDecisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "guard_decisions_total",
		Help:      "Route guard decisions by rule",
	}, []string{"rule"})

	m.backendRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "backend_requests_total",
		Help:      "Backend API requests by endpoint and status class",
	}, []string{"endpoint", "status"})

	m.backendRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Name:      "backend_request_duration_seconds",
		Help:      "Backend API request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordAuthOperation records an auth state machine operation.
func (m *Metrics) RecordAuthOperation(op, result string) {
	if !m.on() {
		return
	}
	m.authOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordStoreRepair records a reconciliation write to a stale store.
func (m *Metrics) RecordStoreRepair(store string) {
	if !m.on() {
		return
	}
	m.storeRepairsTotal.WithLabelValues(store).Inc()
}

// RecordStoreFailure records a failed read, write or clear on one store.
func (m *Metrics) RecordStoreFailure(store, op string) {
	if !m.on() {
		return
	}
	m.storeFailuresTotal.WithLabelValues(store, op).Inc()
}

// RecordInvalidation records a token dropped without a logout.
func (m *Metrics) RecordInvalidation(reason string) {
	if !m.on() {
		return
	}
	m.invalidationsTotal.WithLabelValues(reason).Inc()
}

// RecordSessionTransition records a session state change.
func (m *Metrics) RecordSessionTransition(from, to string) {
	if !m.on() {
		return
	}
	m.sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRefresh records a token refresh attempt.
func (m *Metrics) RecordRefresh(result string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.refreshDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordGuardDecision records which guard rule applied to a navigation.
func (m *Metrics) RecordGuardDecision(rule string) {
	if !m.on() {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(rule).Inc()
}

// RecordBackendRequest records a completed backend API call.
// status is the status class ("2xx", "4xx", ...) or "error" for transport failures.
func (m *Metrics) RecordBackendRequest(endpoint, status string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.backendRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.backendRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}
