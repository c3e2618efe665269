// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transcoderRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_transcoder_runs_total",
		Help: "Total ffmpeg invocations by operation and result",
	}, []string{"operation", "result"})

	transcoderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediagrab_transcoder_duration_seconds",
		Help:    "Wall-clock duration of ffmpeg runs by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"operation"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediagrab_circuit_breaker_state",
		Help: "Circuit breaker state by component (the active state carries 1)",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_circuit_breaker_trips_total",
		Help: "Total circuit breaker transitions to the open state",
	}, []string{"component", "reason"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// RecordTranscoderRun counts one ffmpeg run and observes its duration.
func RecordTranscoderRun(operation, result string, seconds float64) {
	transcoderRuns.WithLabelValues(operation, result).Inc()
	transcoderDuration.WithLabelValues(operation).Observe(seconds)
}

// SetCircuitBreakerState records the active breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(component, reason string) {
	circuitBreakerTrips.WithLabelValues(component, reason).Inc()
}
