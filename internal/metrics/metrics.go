package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealchat_ws_connections",
			Help: "Currently open chat connections",
		},
	)

	WSFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_ws_frames_total",
			Help: "Inbound frames by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	BroadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_broadcast_dropped_total",
			Help: "Events not delivered to a slow or closing connection",
		},
		[]string{"type"},
	)

	// Chat
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_messages_persisted_total",
			Help: "Messages written to the store",
		},
		[]string{"kind"},
	)

	RoomsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_rooms_opened_total",
			Help: "get-or-create outcomes",
		},
		[]string{"outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_notifications_created_total",
			Help: "Notification records created",
		},
		[]string{"kind"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_notifications_failed_total",
			Help: "Notification records that could not be created",
		},
		[]string{"kind"},
	)

	// Reaper
	ReaperSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealchat_reaper_sweeps_total",
			Help: "Completed idle-room sweeps",
		},
	)

	ReaperClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealchat_reaper_closed_total",
			Help: "Rooms closed for buyer inactivity",
		},
	)

	ReaperSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealchat_reaper_skipped_total",
			Help: "Idle candidates left open",
		},
		[]string{"reason"},
	)
)
