// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry so both binaries expose them from
// their /metrics handler without extra wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paxbox_records_validated_total",
		Help: "Validation runs completed, by result and source.",
	}, []string{"result", "source"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paxbox_validation_errors_total",
		Help: "Rule violations recorded, by category.",
	}, []string{"category"})

	BatchesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paxbox_batches_ingested_total",
		Help: "Dump batches loaded.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paxbox_ingest_duration_seconds",
		Help:    "Wall time of a dump ingest.",
		Buckets: prometheus.DefBuckets,
	})

	RevalidationsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paxbox_revalidations_deferred_total",
		Help: "Revalidation attempts pushed back with backoff.",
	})
)

// ObserveOutcome feeds the validation counters from one outcome.
func ObserveOutcome(valid bool, source string, errorsByCategory map[string][]string) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	RecordsValidated.WithLabelValues(result, source).Inc()
	for cat, msgs := range errorsByCategory {
		if len(msgs) > 0 {
			ValidationErrors.WithLabelValues(cat).Add(float64(len(msgs)))
		}
	}
}
