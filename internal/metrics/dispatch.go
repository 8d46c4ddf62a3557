package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsDispatched tracks protocol steps routed to a handler
	StepsDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "steps_total",
			Help:      "Total number of protocol steps dispatched",
		},
		[]string{"protocol", "direction", "status"}, // send/receive, success/failure
	)

	// UnknownProtocolPassthroughs tracks messages whose protocol has no
	// registered steps at all and fall through unencrypted per the
	// passthrough rule.
	UnknownProtocolPassthroughs = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "unknown_protocol_passthroughs_total",
			Help:      "Total number of messages dispatched for an unregistered protocol",
		},
	)

	// DispatchDuration tracks step handler durations
	DispatchDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Protocol step handler duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 204.8ms
		},
		[]string{"protocol", "step"},
	)
)
