package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pubsub_active_websocket_connections",
		Help: "Number of active WebSocket connections",
	}, []string{"endpoint"}) // "session" | "admin"

	WebSocketConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_websocket_connections_total",
		Help: "Total number of WebSocket connections",
	}, []string{"endpoint"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_active_sessions",
		Help: "Number of live sessions",
	})

	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pubsub_active_streams",
		Help: "Number of live streams",
	}, []string{"kind"}) // "session" | "pull"

	ActiveSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pubsub_active_subscribers",
		Help: "Number of live subscribers",
	}, []string{"kind"}) // "session" | "forward"

	ControlMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_control_messages_total",
		Help: "Control messages processed by the message handler",
	}, []string{"request", "result"}) // result: "ok" | "error"

	ControlQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_control_queue_length",
		Help: "Messages waiting in the control queue",
	})

	ControlPlaneRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pubsub_control_plane_request_seconds",
		Help:    "Duration of control-plane authorization calls",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
	}, []string{"action", "result"})

	RelayedPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_relayed_packets_total",
		Help: "Packets delivered to subscribers",
	}, []string{"media", "sink"}) // sink: "session" | "forward"

	RelayedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_relayed_bytes_total",
		Help: "Bytes delivered to subscribers",
	}, []string{"media", "sink"})

	ForwardErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_forward_errors_total",
		Help: "Failed UDP sends to forwarder destinations",
	})

	PulledPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_pulled_packets_total",
		Help: "Packets received by pullers",
	}, []string{"media"})

	FeedbackPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_feedback_packets_total",
		Help: "RTCP packets relayed",
	}, []string{"direction"}) // "downstream" | "upstream"

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_pli_requests_total",
		Help: "Keyframe requests sent",
	})

	SlowLinksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_slow_links_total",
		Help: "Slow link reports from the media transport",
	})

	PendingReclaim = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pubsub_pending_reclaim",
		Help: "Destroyed entities waiting for the watchdog",
	}, []string{"type"}) // "session" | "stream" | "subscriber"

	ReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_reclaimed_total",
		Help: "Entities released by the watchdog",
	}, []string{"type"})

	DroppedOutboundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_dropped_outbound_total",
		Help: "Media frames and relay events dropped because a session write queue was full",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_start_time_seconds",
		Help: "Server start time in Unix seconds",
	})
)
