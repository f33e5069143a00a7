// Package metrics defines the prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casperai_active_connections",
			Help: "Live WebSocket connections",
		},
	)

	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casperai_turns_total",
			Help: "Chat turns by outcome",
		},
		[]string{"status"}, // "completed", "failed", "rejected"
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casperai_turn_duration_seconds",
			Help:    "Duration of one chat turn, request to terminal frame",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	FragmentsRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casperai_fragments_relayed_total",
			Help: "Streaming fragments relayed to clients",
		},
	)

	FragmentsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casperai_fragments_dropped_total",
			Help: "Fragments dropped because the connection was gone or backed up",
		},
	)
)
