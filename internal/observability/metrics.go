package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault.
type Metrics struct {
	// --- Submission ---
	DepositsQueued prometheus.Counter
	RedeemsQueued  prometheus.Counter
	OpsRejected    *prometheus.CounterVec // op, reason

	// --- Settlement ---
	DepositsSettled   prometheus.Counter
	RedeemsSettled    prometheus.Counter
	RequestsReverted  *prometheus.CounterVec // queue
	SettlementBatches *prometheus.CounterVec // op
	BatchDuration     *prometheus.HistogramVec
	BatchSize         prometheus.Histogram

	// --- Vault state ---
	QueueDepth    *prometheus.GaugeVec // queue
	Price         prometheus.Gauge
	WithdrawalFee prometheus.Gauge
	TotalAssets   prometheus.Gauge
	TotalSupply   prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec // stage
	PersistLastSequence  prometheus.Gauge

	// --- Outbound ---
	PublishDrops  prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	batchBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
	}

	return &Metrics{
		DepositsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_queued_total",
			Help: "Deposit requests accepted into the queue",
		}),
		RedeemsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_redeems_queued_total",
			Help: "Redeem requests accepted into the queue",
		}),
		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Operations rejected by precondition checks",
		}, []string{"op", "reason"}),

		DepositsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_settled_total",
			Help: "Deposit requests settled by processing batches",
		}),
		RedeemsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_redeems_settled_total",
			Help: "Redeem requests settled by processing batches",
		}),
		RequestsReverted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_requests_reverted_total",
			Help: "Front-of-queue requests reverted by the operator",
		}, []string{"queue"}),
		SettlementBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_settlement_batches_total",
			Help: "Successful settlement batches by operation",
		}, []string{"op"}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_settlement_batch_duration_seconds",
			Help:    "Wall time per settlement batch",
			Buckets: batchBuckets,
		}, []string{"op"}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_settlement_batch_size",
			Help:    "Requests settled per batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_queue_depth",
			Help: "Pending requests per queue",
		}, []string{"queue"}),
		Price: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_price",
			Help: "Current assets-per-share price (1e18 scale)",
		}),
		WithdrawalFee: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_withdrawal_fee",
			Help: "Current withdrawal fee rate (1e6 scale)",
		}),
		TotalAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_assets",
			Help: "Settled asset total",
		}),
		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_supply",
			Help: "Issued share total",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Settlement events written to the event log",
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per write batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Wall time per event log write batch",
			Buckets: prometheus.DefBuckets,
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Event log write failures by stage",
		}, []string{"stage"}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Highest event sequence durably written",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Outbound events dropped on full publish channel",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_errors_total",
			Help: "Outbound publish failures",
		}),
	}
}
