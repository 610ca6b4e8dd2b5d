// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Price feed metrics
	AdapterRequests *prometheus.CounterVec
	AdapterLatency  *prometheus.HistogramVec

	// Synchronizer metrics
	Reconciliations *prometheus.CounterVec
	Syncs           *prometheus.CounterVec
	Sweeps          *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	StaleAssets     *prometheus.GaugeVec

	// Ledger metrics
	Trades            *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "papertrade"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AdapterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricer",
			Name:      "requests_total",
			Help:      "Price adapter calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		AdapterLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricer",
			Name:      "request_duration_seconds",
			Help:      "Price adapter call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reconciliations_total",
			Help:      "Reconciliation results: consistent, inconsistent or empty",
		}, []string{"result"}),
		Syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "asset_syncs_total",
			Help:      "Per-asset sync attempts by scope and result",
		}, []string{"scope", "result"}),
		Sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "portfolio_sweeps_total",
			Help:      "Portfolio sweeps by result",
		}, []string{"result"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "portfolio_sweep_duration_seconds",
			Help:      "Duration of completed portfolio sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		StaleAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stale_assets",
			Help:      "Tracked assets currently flagged stale",
		}, []string{"scope"}),

		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_total",
			Help:      "Trade attempts by type and result",
		}, []string{"type", "result"}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "persistence_errors_total",
			Help:      "Failed persistence write-throughs by operation",
		}, []string{"op"}),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.AdapterRequests.WithLabelValues(provider, outcome).Inc()
	m.AdapterLatency.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) ObserveReconciliation(result string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSync(scope, result string) {
	if m == nil {
		return
	}
	m.Syncs.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) ObserveSweep(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Sweeps.WithLabelValues(result).Inc()
	if result == "completed" {
		m.SweepDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) SetStale(scope string, n int) {
	if m == nil {
		return
	}
	m.StaleAssets.WithLabelValues(scope).Set(float64(n))
}

func (m *Metrics) ObserveTrade(tradeType, result string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(tradeType, result).Inc()
}

func (m *Metrics) ObservePersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}
