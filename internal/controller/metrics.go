package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Reconciliation results, as exposed on the result metric label.
const (
	resultSuccess   = "success"
	resultConfig    = "config_error"
	resultPermanent = "permanent_error"
	resultTransient = "transient_error"
	resultDeleted   = "deleted"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "robotlb",
			Subsystem: "controller",
			Name:      "reconcile_total",
			Help:      "Total number of reconciliations by result",
		},
		[]string{"result"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "robotlb",
			Subsystem: "controller",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{},
	)

	targetsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "robotlb",
			Subsystem: "controller",
			Name:      "targets",
			Help:      "Number of backend targets currently attached per service",
		},
		[]string{"service"},
	)
)

func init() {
	// Register with controller-runtime's registry
	metrics.Registry.MustRegister(reconcileTotal, reconcileDuration, targetsGauge)
}

func recordReconcile(result string, seconds float64) {
	reconcileTotal.WithLabelValues(result).Inc()
	reconcileDuration.WithLabelValues().Observe(seconds)
}

func recordTargets(service string, count int) {
	targetsGauge.WithLabelValues(service).Set(float64(count))
}

// forgetTargets drops the service's gauge series once the balancer is
// gone, so deleted services do not linger as zero-valued metrics.
func forgetTargets(service string) {
	targetsGauge.DeleteLabelValues(service)
}
