// Package metrics exposes Prometheus collectors for the raffle client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds the raffle client's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Total number of state cache refreshes.",
		},
		[]string{"result"},
	)

	contractEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "events",
			Name:      "contract_events_total",
			Help:      "Total number of contract events received.",
		},
		[]string{"event"},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "events",
			Name:      "subscriber_reconnects_total",
			Help:      "Total number of event subscription reconnect attempts.",
		},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Total number of gateway operations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle",
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Duration of gateway operations from validation to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		refreshes,
		contractEvents,
		reconnects,
		operations,
		operationDuration,
	)
}

// RecordRefresh records a cache refresh outcome ("ok" or "error").
func RecordRefresh(result string) {
	refreshes.WithLabelValues(result).Inc()
}

// RecordContractEvent records an incoming contract event by name.
func RecordContractEvent(event string) {
	contractEvents.WithLabelValues(event).Inc()
}

// RecordReconnect records a subscription reconnect attempt.
func RecordReconnect() {
	reconnects.Inc()
}

// RecordOperation records a gateway operation outcome.
func RecordOperation(kind, result string) {
	operations.WithLabelValues(kind, result).Inc()
}

// ObserveOperationDuration records how long a gateway operation took.
func ObserveOperationDuration(kind string, seconds float64) {
	operationDuration.WithLabelValues(kind).Observe(seconds)
}
