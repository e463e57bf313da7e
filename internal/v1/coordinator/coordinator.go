// Package coordinator defines the abstract capability set the engine needs
// from the external pub/sub + key-value service described in §1 and §4.2 of
// the design: publish, pattern subscription, and a small hash store for
// snapshots. The production implementation wraps a Sentinel-aware
// github.com/redis/go-redis/v9 client behind a gobreaker circuit breaker,
// the way the teacher's bus.Service wraps Redis for cross-pod fan-out.
package coordinator

import "context"

// PatternHandler is invoked for every message delivered on a pattern
// subscription. channel is the exact channel name the message arrived on
// (e.g. "room:r1:channel"); payload is the raw, still-encoded message body.
type PatternHandler func(channel string, payload []byte)

// Coordinator is the capability set §9's "Coordinator abstraction" design
// note calls for: publish/subscribe for cross-instance fan-out, and a hash
// store for snapshot persistence. A test double satisfying this interface
// lets room and registry tests run without a real Redis.
type Coordinator interface {
	// Publish sends payload to channel. Implementations must not block
	// callers indefinitely; a circuit-open coordinator should return nil
	// (publish failures are logged and swallowed per §7, not propagated as
	// fatal errors to the Room).
	Publish(ctx context.Context, channel string, payload []byte) error

	// SubscribePattern starts (or restarts, after a reconnect) a
	// long-lived subscription matching pattern (e.g. "room:*:channel").
	// handler is invoked from a background goroutine for every message
	// until ctx is cancelled. Re-subscription after a coordinator
	// reconnect is the caller's responsibility to trigger; implementations
	// should resubscribe internally on transport-level reconnects where
	// the underlying client supports it.
	SubscribePattern(ctx context.Context, pattern string, handler PatternHandler) error

	// HashSet writes fields into the hash stored at key (used for
	// snapshots: room:<roomId>:snapshot).
	HashSet(ctx context.Context, key string, fields map[string]string) error

	// HashGetAll reads every field of the hash stored at key. A missing
	// key returns an empty, non-nil map and a nil error.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Del removes key entirely.
	Del(ctx context.Context, key string) error

	// Ping verifies connectivity; used by the readiness probe.
	Ping(ctx context.Context) error

	// Close releases any underlying connections.
	Close() error
}
