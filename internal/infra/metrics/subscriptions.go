package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		activationsTotal,
		lifecycleTotal,
		sweepItemsTotal,
		sweepDuration,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_activations_total",
			Help: "Subscription activations by transaction type and whether it was fresh.",
		},
		[]string{"type", "fresh"},
	)

	// action: checked|expired|downgraded|cancelled|reactivated|downgrade_scheduled
	lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_lifecycle_total",
			Help: "Subscription lifecycle actions.",
		},
		[]string{"action"},
	)

	// outcome: checked|recovered|failed|error
	sweepItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_recovery_sweep_items_total",
			Help: "Pending transactions handled by the recovery sweeper.",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_recovery_sweep_duration_seconds",
			Help:    "Wall time of one recovery sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func IncActivation(txnType string, fresh bool) {
	f := "false"
	if fresh {
		f = "true"
	}
	activationsTotal.WithLabelValues(norm(txnType), f).Inc()
}

func AddLifecycle(action string, n int) {
	if n <= 0 {
		return
	}
	lifecycleTotal.WithLabelValues(norm(action)).Add(float64(n))
}

func ObserveSweep(checked, recovered, failed, errs int, seconds float64) {
	sweepItemsTotal.WithLabelValues("checked").Add(float64(checked))
	sweepItemsTotal.WithLabelValues("recovered").Add(float64(recovered))
	sweepItemsTotal.WithLabelValues("failed").Add(float64(failed))
	sweepItemsTotal.WithLabelValues("error").Add(float64(errs))
	sweepDuration.Observe(seconds)
}
