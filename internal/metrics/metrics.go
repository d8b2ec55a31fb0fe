// Package metrics exposes Prometheus counters for the synchronization engine.
//
// Each Metrics value owns its own registry so several engines (and tests) can
// coexist in one process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors of one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	// Requests counts debug adapter requests by command and result.
	Requests *prometheus.CounterVec

	// StaleEchoes counts breakpoint echoes dropped because a newer request
	// for the same source had already been issued.
	StaleEchoes prometheus.Counter

	// BinderUpdates counts session binder outcomes by widget kind and result
	// ("attached", "unchanged", "miss", "superseded", "error").
	BinderUpdates *prometheus.CounterVec

	// SourceEditors counts source resolutions by outcome
	// ("user", "cached", "created", "activated", "failed").
	SourceEditors *prometheus.CounterVec

	// SessionsStarted counts debug sessions started.
	SessionsStarted prometheus.Counter
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgsync",
			Name:      "dap_requests_total",
			Help:      "Debug adapter requests by command and result",
		}, []string{"command", "result"}),
		StaleEchoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbgsync",
			Name:      "stale_breakpoint_echoes_total",
			Help:      "Breakpoint echoes discarded in favor of a later request",
		}),
		BinderUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgsync",
			Name:      "binder_updates_total",
			Help:      "Session binder updates by widget kind and outcome",
		}, []string{"kind", "outcome"}),
		SourceEditors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgsync",
			Name:      "source_editors_total",
			Help:      "Source resolutions by outcome",
		}, []string{"outcome"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbgsync",
			Name:      "sessions_started_total",
			Help:      "Debug sessions started",
		}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.StaleEchoes,
		m.BinderUpdates,
		m.SourceEditors,
		m.SessionsStarted,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Request records one adapter request outcome.
func (m *Metrics) Request(command string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Requests.WithLabelValues(command, result).Inc()
}

// Binder records one binder outcome.
func (m *Metrics) Binder(kind, outcome string) {
	if m == nil {
		return
	}
	m.BinderUpdates.WithLabelValues(kind, outcome).Inc()
}

// Source records one source resolution outcome.
func (m *Metrics) Source(outcome string) {
	if m == nil {
		return
	}
	m.SourceEditors.WithLabelValues(outcome).Inc()
}

// Stale records a dropped breakpoint echo.
func (m *Metrics) Stale() {
	if m == nil {
		return
	}
	m.StaleEchoes.Inc()
}

// SessionStarted records a started session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}
