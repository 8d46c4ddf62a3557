package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsAttempted tracks every CurrentState/SaveState guard check
	TransitionsAttempted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "transitions_total",
			Help:      "Total number of state transitions attempted",
		},
		[]string{"protocol", "status"}, // success, failure
	)

	// IllegalTransitions tracks guard rejections
	IllegalTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "illegal_transitions_total",
			Help:      "Total number of transitions rejected by the legal-transition table",
		},
		[]string{"protocol"},
	)

	// ThreadsActive counts (threadId, role) state records this process has
	// first saved out of Unknown; it is never decremented.
	ThreadsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "threads_active",
			Help:      "Number of thread/role state records currently tracked",
		},
	)

	// TransitionDuration tracks guard-then-persist latency
	TransitionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "transition_duration_seconds",
			Help:      "Duration of a state transition's guard-then-persist sequence",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"protocol"},
	)
)
