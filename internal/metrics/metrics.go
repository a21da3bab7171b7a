package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillin_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillin_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillin_connections_open",
			Help: "Live websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillin_online_users",
			Help: "Identities currently marked online",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillin_events_total",
			Help: "Inbound relay events",
		},
		[]string{"event", "outcome"}, // outcome: ok, validation, protocol, persistence
	)

	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillin_messages_stored_total",
			Help: "Messages appended to the store",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillin_frames_dropped_total",
			Help: "Outbound frames dropped because a connection queue was full",
		},
	)
)
