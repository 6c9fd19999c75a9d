package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Wallet ledger operations, labeled by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_duration_seconds",
		Help:    "Latency of wallet ledger operations including persistence",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"operation"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transitions_applied_total",
		Help: "Scheduled transitions applied, labeled by transaction type and trigger",
	}, []string{"type", "trigger"})

	persistenceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_persistence_failures_total",
		Help: "Snapshot writes that failed after an in-memory mutation",
	})

	scheduledTransitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_scheduled_transitions",
		Help: "Transitions currently armed in the scheduler",
	})

	openWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_open_wallets",
		Help: "Wallets held in memory by the registry",
	})
)

// observe records the outcome of one operation.
func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsPersistenceOnly(err):
		result = "persistence_error"
	case IsClientError(err):
		result = "rejected"
	default:
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
