// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_bus_publish_total",
		Help: "Total progress events published per topic",
	}, []string{"topic"})

	busDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_bus_dropped_total",
		Help: "Total progress events dropped by topic and reason",
	}, []string{"topic", "reason"})
)

// IncBusPublish counts one delivered bus message.
func IncBusPublish(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	busPublishes.WithLabelValues(topic).Inc()
}

// IncBusDrop records a dropped bus message with a concrete reason.
func IncBusDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	busDrops.WithLabelValues(topic, reason).Inc()
}
