package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubConnectedClients tracks the total number of registered WebSocket connections
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected_clients",
			Help: "Number of registered WebSocket connections",
		},
	)

	// HubAuthenticatedClients tracks connections that completed the handshake
	HubAuthenticatedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_authenticated_clients",
			Help: "Number of authenticated WebSocket connections",
		},
	)

	// MessagesDelivered counts frames pushed to client send buffers by message type
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_delivered_total",
			Help: "Frames delivered to client send buffers by message type",
		},
		[]string{"message_type"},
	)

	// SlowClientsEvicted counts connections dropped because their send buffer was full
	SlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_slow_clients_evicted_total",
			Help: "Connections evicted due to a full send buffer",
		},
	)

	// LivenessEvictions counts connections evicted by the liveness sweep
	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_liveness_evictions_total",
			Help: "Connections evicted after exceeding the silence deadline",
		},
	)

	// ProtocolErrors counts malformed or unrecognized inbound frames
	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_protocol_errors_total",
			Help: "Malformed or unrecognized inbound frames",
		},
	)

	// AuthFailures counts rejected handshakes and unauthenticated requests
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_auth_failures_total",
			Help: "Rejected handshakes and pre-auth subscribe/broadcast attempts",
		},
	)

	// HubCommandChannelDepth tracks the hub actor's command backlog
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_hub_command_channel_depth",
			Help: "Pending commands in the hub actor channel",
		},
	)

	// ConnectionsRejected counts connections refused at the door by reason
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_rejected_total",
			Help: "Connections rejected before upgrade by limit reason",
		},
		[]string{"reason"},
	)

	// WebSocketMessageSendDuration tracks transport write latency in seconds
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_websocket_send_duration_seconds",
			Help:    "WebSocket message write duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// WebSocketPingFailures counts failed ping writes
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_websocket_ping_failures_total",
			Help: "Failed WebSocket ping writes",
		},
	)
)

// Domain Event Metrics
var (
	// DomainEventsReceived counts domain events accepted for broadcast by kind and source
	DomainEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_domain_events_received_total",
			Help: "Domain events accepted for broadcast by kind and source",
		},
		[]string{"kind", "source"},
	)

	// PubSubMessagesReceived counts messages consumed from Redis pub/sub channels
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_pubsub_messages_received_total",
			Help: "Messages received from Redis pub/sub by channel",
		},
		[]string{"channel"},
	)

	// PubSubDecodeErrors counts undecodable pub/sub payloads
	PubSubDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_pubsub_decode_errors_total",
			Help: "Pub/sub payloads that failed to decode",
		},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
