package hcloudapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "robotlb",
			Subsystem: "hcloud",
			Name:      "api_calls_total",
			Help:      "Total number of Hetzner Cloud API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "robotlb",
			Subsystem: "hcloud",
			Name:      "api_latency_seconds",
			Help:      "Latency of Hetzner Cloud API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~25s
		},
		[]string{"operation"},
	)
)

func init() {
	// Register with controller-runtime's registry so the calls show up
	// on the manager's metrics endpoint.
	metrics.Registry.MustRegister(apiCallsTotal, apiLatency)
}

// observe records one API call. Mutating calls include the action wait
// in their latency.
func observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	apiCallsTotal.WithLabelValues(operation, result).Inc()
	apiLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
