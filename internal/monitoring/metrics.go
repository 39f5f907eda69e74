package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the wallet's Prometheus instruments.
type Metrics struct {
	TransactionsTotal   *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	LockContentionTotal prometheus.Counter
	IdempotencyHits     prometheus.Counter
	SuspicionFlags      prometheus.Counter
	ReconDiscrepancies  prometheus.Counter
	MigrationRecords    *prometheus.CounterVec
}

// NewMetrics registers the wallet instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transactions_total",
			Help: "Ledger transactions by type and terminal status.",
		}, []string{"type", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_operation_duration_seconds",
			Help:    "Wall time of wallet operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LockContentionTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_lock_contention_total",
			Help: "Operations rejected because an account lock was held.",
		}),
		IdempotencyHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_idempotency_hits_total",
			Help: "Requests answered from the idempotency record.",
		}),
		SuspicionFlags: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_suspicion_flags_total",
			Help: "Users flagged by the suspicious activity detector.",
		}),
		ReconDiscrepancies: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_reconciliation_discrepancies_total",
			Help: "Accounts whose cached balance diverged from the ledger.",
		}),
		MigrationRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_migration_records_total",
			Help: "Legacy records processed by the migration, by outcome.",
		}, []string{"outcome"}),
	}
}
