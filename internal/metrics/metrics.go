// ABOUTME: Prometheus instrumentation for pool occupancy and session traffic
// ABOUTME: Pool and registry gauges are read at scrape time, event counters are pushed by the gateway

// Package metrics exposes gateway state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/asr-gateway/internal/pool"
)

const namespace = "asr_gateway"

// Session outcomes recorded by SessionOpened.
const (
	OutcomeAccepted     = "accepted"
	OutcomeUnauthorized = "unauthorized"
	OutcomeExhausted    = "exhausted"
)

// PoolSource reports pool occupancy.
type PoolSource interface {
	Stats() pool.Stats
}

// SessionSource reports how many client sessions are registered.
type SessionSource interface {
	Len() int
}

// Metrics owns a private registry so tests and multiple gateways do not collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	audioBytes      prometheus.Counter
	results         *prometheus.CounterVec
	backendFailures prometheus.Counter
	ledgerErrors    *prometheus.CounterVec
}

// New registers the pool collector, the event counters and the Go runtime collectors.
func New(p PoolSource, s SessionSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Client sessions by admission outcome.",
		}, []string{"outcome"}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes forwarded to the backend engine.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Backend result messages relayed to clients, by cmd.",
		}, []string{"cmd"}),
		backendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Sessions failed because their backend link was down.",
		}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Failed ledger writes, by record kind.",
		}, []string{"record"}),
	}

	m.registry.MustRegister(
		newCollector(p, s),
		m.sessions,
		m.audioBytes,
		m.results,
		m.backendFailures,
		m.ledgerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AudioForwarded(n int) {
	if m == nil {
		return
	}
	m.audioBytes.Add(float64(n))
}

func (m *Metrics) ResultRelayed(cmd string) {
	if m == nil {
		return
	}
	if cmd == "" {
		cmd = "unknown"
	}
	m.results.WithLabelValues(cmd).Inc()
}

func (m *Metrics) BackendFailure() {
	if m == nil {
		return
	}
	m.backendFailures.Inc()
}

func (m *Metrics) LedgerError(record string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(record).Inc()
}
