package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
)

// Metrics holds the node's collectors on a private registry so several
// instances (tests) never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	Events      *prometheus.CounterVec
	TxApplied   *prometheus.CounterVec
	TxRejected  *prometheus.CounterVec
	Blocks      prometheus.Counter
	BlockTxs    prometheus.Histogram
	Height      prometheus.Gauge
	MempoolSize prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_events_total",
			Help: "Committed exchange events by kind.",
		}, []string{"kind"}),
		TxApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_tx_applied_total",
			Help: "Transactions executed successfully, by action.",
		}, []string{"action"}),
		TxRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_tx_rejected_total",
			Help: "Transactions rejected during execution, by action.",
		}, []string{"action"}),
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dex_blocks_total",
			Help: "Blocks finalized.",
		}),
		BlockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_block_txs",
			Help:    "Transactions per finalized block.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dex_height",
			Help: "Height of the last finalized block.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dex_mempool_size",
			Help: "Pending transactions.",
		}),
	}
	m.registry.MustRegister(m.Events, m.TxApplied, m.TxRejected, m.Blocks, m.BlockTxs, m.Height, m.MempoolSize)
	return m
}

// ObserveEvent counts a committed event.
func (m *Metrics) ObserveEvent(e events.Envelope) {
	m.Events.WithLabelValues(string(e.Event.Kind())).Inc()
}

// ObserveTx counts an executed transaction by outcome.
func (m *Metrics) ObserveTx(action string, ok bool) {
	if action == "" {
		action = "unknown"
	}
	if ok {
		m.TxApplied.WithLabelValues(action).Inc()
		return
	}
	m.TxRejected.WithLabelValues(action).Inc()
}

// ObserveBlock records a finalized block.
func (m *Metrics) ObserveBlock(height int64, txs int, pending int) {
	m.Blocks.Inc()
	m.BlockTxs.Observe(float64(txs))
	m.Height.Set(float64(height))
	m.MempoolSize.Set(float64(pending))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
