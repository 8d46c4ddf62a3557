package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks Prepare/Ingest calls
	MessagesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "processed_total",
			Help:      "Total number of messages processed by Prepare/Ingest",
		},
		[]string{"operation", "status"}, // prepare/ingest, success/failure
	)

	// NoKeyMaterialTotal tracks Seal/Open calls that found no usable key
	NoKeyMaterialTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "no_key_material_total",
			Help:      "Total number of prepare/ingest calls that failed with NoKeyMaterial",
		},
		[]string{"direction"}, // encrypt, decrypt
	)

	// MessageProcessingDuration tracks Prepare/Ingest end-to-end duration
	MessageProcessingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "processing_duration_seconds",
			Help:      "Prepare/Ingest processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 204.8ms
		},
		[]string{"operation"},
	)

	// MessageSize tracks plaintext/wire message sizes
	MessageSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "size_bytes",
			Help:      "Size in bytes of messages passed to Prepare/Ingest",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // plaintext, wire
	)
)
