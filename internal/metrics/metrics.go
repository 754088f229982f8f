// Package metrics exposes the Prometheus instruments shared across the
// sync engine. All instruments are registered on a private registry so
// tests can create independent sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every instrument the engine records.
type Set struct {
	registry *prometheus.Registry

	SyncRuns       *prometheus.CounterVec
	QueueDrained   prometheus.Counter
	QueueFailed    prometheus.Counter
	QueueDead      prometheus.Counter
	QueueDepth     prometheus.Gauge
	SyncDuration   prometheus.Histogram
	BankSyncRuns   *prometheus.CounterVec
	BankTxImported *prometheus.CounterVec
}

// New creates a fresh instrument set on its own registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moneta_sync_runs_total",
			Help: "Queue drain runs by outcome.",
		}, []string{"outcome"}),
		QueueDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "moneta_queue_items_drained_total",
			Help: "Queue items confirmed by the remote store.",
		}),
		QueueFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "moneta_queue_items_failed_total",
			Help: "Queue item replay attempts that failed.",
		}),
		QueueDead: factory.NewCounter(prometheus.CounterOpts{
			Name: "moneta_queue_items_dead_total",
			Help: "Queue items dead-lettered after exhausting attempts.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moneta_queue_depth",
			Help: "Pending queue items after the latest drain.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moneta_sync_duration_seconds",
			Help:    "Duration of queue drain runs.",
			Buckets: prometheus.DefBuckets,
		}),
		BankSyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moneta_bank_sync_runs_total",
			Help: "Bank connection sync runs by provider and outcome.",
		}, []string{"provider", "outcome"}),
		BankTxImported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moneta_bank_transactions_imported_total",
			Help: "New transactions imported from bank providers.",
		}, []string{"provider"}),
	}
}

// Handler serves the set in the Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
