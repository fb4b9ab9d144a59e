package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: signal_server (application-level grouping)
// - subsystem: websocket, room, relay, reconnection, authority, rate_limit,
//   circuit_breaker, app_registry, redis (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal_server",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal_server",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks player+spectator counts per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signal_server",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members (players or spectators) in each room",
	}, []string{"room_id", "role"})

	// LobbyStateTransitions counts lobby state machine transitions.
	LobbyStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "room",
		Name:      "lobby_transitions_total",
		Help:      "Total lobby state machine transitions",
	}, []string{"from", "to"})

	// WebsocketEvents tracks the total number of WebSocket envelope events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing a client envelope.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signal_server",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// GameDataRelayed counts opaque game-data relay fan-outs, by encoding.
	GameDataRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "relay",
		Name:      "game_data_total",
		Help:      "Total game-data relay fan-out sends",
	}, []string{"encoding"})

	// AuthorityChanges counts authority grant/release/transfer events.
	AuthorityChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "authority",
		Name:      "changes_total",
		Help:      "Total authority holder changes",
	}, []string{"reason"})

	// ReconnectionsAttempted counts reconnection attempts by outcome.
	ReconnectionsAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "reconnection",
		Name:      "attempts_total",
		Help:      "Total reconnection attempts",
	}, []string{"outcome"})

	// PendingReconnections tracks players currently within their reconnection window.
	PendingReconnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal_server",
		Subsystem: "reconnection",
		Name:      "pending",
		Help:      "Current number of players within their reconnection window",
	})

	// CircuitBreakerState tracks the current state of a circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signal_server",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by an open circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// AppRegistryLookups tracks application registry validation lookups.
	AppRegistryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "app_registry",
		Name:      "lookups_total",
		Help:      "Total application registry lookups, by cache hit/miss and outcome",
	}, []string{"source", "outcome"})

	// RedisOperationsTotal tracks Redis operations backing the cache and rate limiter.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal_server",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signal_server",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// IncConnection records a new active WebSocket connection.
func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

// DecConnection records a closed WebSocket connection.
func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
