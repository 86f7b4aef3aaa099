package metrics

import "github.com/prometheus/client_golang/prometheus"

// Operator-visible health signals. Every degradation path in the
// pipeline increments one of these instead of failing the process.
var (
	EventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_events_ingested_total",
			Help: "Total number of raw payloads received from the event feed",
		},
	)

	EventsMalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_events_malformed_total",
			Help: "Total number of payloads dropped as unparsable",
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_events_dropped_total",
			Help: "Total number of un-admitted events dropped on queue overflow",
		},
	)

	EventsAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_events_abandoned_total",
			Help: "Total number of queued events discarded after forced shutdown",
		},
	)

	EventsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinyguardian_events_suppressed_total",
			Help: "Total number of events suppressed by the cooldown guard",
		},
		[]string{"reason"}, // cooldown|pending
	)

	FallbackUsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_classifier_fallback_total",
			Help: "Total number of classifications served by the fallback classifier",
		},
	)

	CircuitOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_classifier_circuit_open_total",
			Help: "Total number of circuit breaker open transitions",
		},
	)

	AlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_alerts_total",
			Help: "Total number of alerts persisted",
		},
	)

	StoreWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinyguardian_store_write_failures_total",
			Help: "Total number of alerts lost to store write failures",
		},
	)

	ClassificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinyguardian_classification_duration_seconds",
			Help:    "Duration of classification calls including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all pipeline metrics with the default registry.
func Register() {
	prometheus.MustRegister(EventsIngestedTotal)
	prometheus.MustRegister(EventsMalformedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(EventsAbandonedTotal)
	prometheus.MustRegister(EventsSuppressedTotal)
	prometheus.MustRegister(FallbackUsedTotal)
	prometheus.MustRegister(CircuitOpenTotal)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(StoreWriteFailuresTotal)
	prometheus.MustRegister(ClassificationDuration)
}
