// Package metrics exports Prometheus collectors for the key-registration
// pipeline.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multikey"

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	watchedTransactions prometheus.Gauge
	chainPolls          *prometheus.CounterVec
	terminalStatuses    *prometheus.CounterVec
	sessionOutcomes     *prometheus.CounterVec
	compositions        *prometheus.CounterVec
	compositionSigners  prometheus.Histogram
	httpRequests        *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		watchedTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_transactions",
			Help:      "Transactions currently polled for finality.",
		}),
		chainPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_polls_total",
			Help:      "Transaction status polls by outcome.",
		}, []string{"outcome"}),
		terminalStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_terminal_total",
			Help:      "Transactions that stopped being watched, by final status.",
		}, []string{"status"}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Restore and backup sessions by terminal state.",
		}, []string{"kind", "state"}),
		compositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_total",
			Help:      "Multi-signature compositions by result.",
		}, []string{"result"}),
		compositionSigners: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "composition_signers",
			Help:      "Number of signers per submitted composition.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method and status code.",
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.watchedTransactions,
		m.chainPolls,
		m.terminalStatuses,
		m.sessionOutcomes,
		m.compositions,
		m.compositionSigners,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WatchStarted() {
	if m != nil {
		m.watchedTransactions.Inc()
	}
}

// WatchStopped records the status a watch ended on
func (m *Metrics) WatchStopped(status string) {
	if m != nil {
		m.watchedTransactions.Dec()
		m.terminalStatuses.WithLabelValues(status).Inc()
	}
}

// ChainPoll records one status poll. outcome is "ok" or "error".
func (m *Metrics) ChainPoll(outcome string) {
	if m != nil {
		m.chainPolls.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SessionOutcome(kind, state string) {
	if m != nil {
		m.sessionOutcomes.WithLabelValues(kind, state).Inc()
	}
}

// Composition records a composition attempt. signers is only observed for
// submitted compositions.
func (m *Metrics) Composition(result string, signers int) {
	if m == nil {
		return
	}
	m.compositions.WithLabelValues(result).Inc()
	if result == "submitted" {
		m.compositionSigners.Observe(float64(signers))
	}
}

// HTTPRequest records one served API request
func (m *Metrics) HTTPRequest(method string, code int) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
}
