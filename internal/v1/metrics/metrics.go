// Package metrics declares the Prometheus collectors for the synchronization
// engine. Kept as a leaf package so room, registry, coordinator, and
// transport can all record to it without import cycles.
//
// Naming convention: namespace_subsystem_name
// - namespace: kasagi (application-level grouping)
// - subsystem: room, session, delta, redis, rate_limit (feature grouping)
// - name: specific metric (rooms_active, remote_received_total, ...)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, sessions per room)
// - Counter: Cumulative events (deltas emitted, coordinator ops, errors)
// - Histogram: Latency distributions (coordinator op duration)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks the current number of rooms resident in memory on
	// this instance (local sessions plus remote-sync-warmed rooms).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasagi",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms resident in memory on this instance",
	})

	// RoomSessions tracks attached session count per room.
	RoomSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kasagi",
		Subsystem: "room",
		Name:      "sessions_active",
		Help:      "Number of sessions currently attached to each room",
	}, []string{"room_id"})

	// ActiveWebSocketConnections tracks total open sockets on this instance.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasagi",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// DeltasEmitted counts locally-originated deltas by whether they were
	// non-empty ("applied") or suppressed as a no-op ("empty").
	DeltasEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasagi",
		Subsystem: "delta",
		Name:      "emitted_total",
		Help:      "Total deltas emitted by local room mutation",
	}, []string{"result"})

	// RemoteDeltasReceived counts inbound remote deltas by acceptance
	// outcome: accepted, stale, own_echo, malformed.
	RemoteDeltasReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasagi",
		Subsystem: "delta",
		Name:      "remote_received_total",
		Help:      "Total remote deltas observed via the coordinator subscription",
	}, []string{"outcome"})

	// SnapshotOps counts snapshot save/load attempts by outcome.
	SnapshotOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasagi",
		Subsystem: "room",
		Name:      "snapshot_ops_total",
		Help:      "Total snapshot save/load operations",
	}, []string{"op", "result"})

	// CircuitBreakerState tracks the coordinator circuit breaker's state.
	// 0: Closed (healthy), 1: Open (failing), 2: Half-Open (recovering).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kasagi",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the coordinator circuit breaker",
	}, []string{"service"})

	// RedisOperationsTotal counts coordinator operations by outcome.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasagi",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of coordinator operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of coordinator operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kasagi",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of coordinator operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// RateLimitExceeded counts WS connect attempts rejected by the limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasagi",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of connections rejected by the rate limiter",
	}, []string{"scope"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
