// Package metrics exposes prometheus counters for the metering pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmmeter_events_dispatched_total",
			Help: "Meter events successfully dispatched to the billing backend",
		},
		[]string{"token_type"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmmeter_dispatch_failures_total",
			Help: "Meter event dispatches that failed and were dropped",
		},
		[]string{"token_type"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmmeter_events_skipped_total",
			Help: "Usage events skipped before dispatch, by reason",
		},
		[]string{"reason"},
	)

	DetectionMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmmeter_detection_misses_total",
			Help: "Responses whose shape no detection guard recognized",
		},
	)

	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmmeter_stream_failures_total",
			Help: "Metered streams that failed before exhaustion",
		},
		[]string{"provider"},
	)

	TeeOverflowDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmmeter_tee_overflow_drops_total",
			Help: "Tee branches abandoned after their consumer stalled past the timeout",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmmeter_dispatch_duration_seconds",
			Help:    "Billing dispatch latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// RecordDispatch updates the success/failure counters for one billing call.
func RecordDispatch(tokenType string, seconds float64, err error) {
	DispatchDuration.Observe(seconds)
	if err != nil {
		DispatchFailures.WithLabelValues(tokenType).Inc()
		return
	}
	EventsDispatched.WithLabelValues(tokenType).Inc()
}

// RecordSkip counts a usage event dropped before dispatch.
func RecordSkip(reason string) {
	EventsSkipped.WithLabelValues(reason).Inc()
}

// RecordDetectionMiss counts an unrecognized response shape.
func RecordDetectionMiss() {
	DetectionMisses.Inc()
}
