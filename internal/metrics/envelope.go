package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopeOperations tracks Seal/Open calls
	EnvelopeOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "operations_total",
			Help:      "Total number of envelope seal/open operations",
		},
		[]string{"operation", "status"}, // seal/open, success/failure
	)

	// EnvelopeInvalidTotal tracks envelopes rejected as EnvelopeInvalid
	EnvelopeInvalidTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "invalid_total",
			Help:      "Total number of envelopes rejected during open",
		},
		[]string{"reason"}, // signature, aead, key_derivation
	)

	// EnvelopeOperationDuration tracks seal/open durations
	EnvelopeOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "operation_duration_seconds",
			Help:      "Envelope seal/open duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 163ms
		},
		[]string{"operation"}, // seal, open
	)
)
