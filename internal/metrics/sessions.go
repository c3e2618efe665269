// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus instrumentation.
// All collectors register through promauto on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_sessions_total",
		Help: "Total number of finished download sessions by platform and outcome",
	}, []string{"platform", "outcome"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediagrab_sessions_active",
		Help: "Number of sessions currently queued or running",
	})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediagrab_session_duration_seconds",
		Help:    "End-to-end session duration by platform and outcome",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"platform", "outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediagrab_queue_depth",
		Help: "Number of sessions waiting for a worker",
	})
)

// SessionStarted tracks a session entering the queue.
func SessionStarted() {
	sessionsActive.Inc()
}

// SessionFinished records a terminal session outcome.
func SessionFinished(platform, outcome string, seconds float64) {
	if platform == "" {
		platform = "unknown"
	}
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(platform, outcome).Inc()
	sessionDuration.WithLabelValues(platform, outcome).Observe(seconds)
}

// SetQueueDepth records the current worker queue backlog.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
