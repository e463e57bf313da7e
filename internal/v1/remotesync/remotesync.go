// Package remotesync is the cross-instance fan-in half of replication: one
// long-lived pattern subscription across every room channel, dispatching
// each decoded delta to the right Room via the Registry. Grounded on the
// teacher's per-room room.subscribeToRedis, generalized to a single
// subscription since a coordinator pattern subscription already multiplexes
// every room without per-room Redis overhead.
package remotesync

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/metrics"
	"github.com/teeban10/kasagi-main/internal/v1/registry"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

const pattern = "room:*:channel"

var channelRe = regexp.MustCompile(`^room:([^:]+):channel$`)

// Syncer subscribes to every room channel and folds inbound deltas into the
// corresponding Room via the Registry.
type Syncer struct {
	coord      coordinator.Coordinator
	reg        *registry.Registry
	instanceID types.InstanceIDType
}

// New constructs a Syncer bound to instanceID so it can drop its own
// published deltas before paying for a decode. Call Start to begin
// subscribing.
func New(coord coordinator.Coordinator, reg *registry.Registry, instanceID types.InstanceIDType) *Syncer {
	return &Syncer{coord: coord, reg: reg, instanceID: instanceID}
}

// Start begins the pattern subscription. It returns once the subscription
// is established; delivery continues on a background goroutine until ctx is
// cancelled.
func (s *Syncer) Start(ctx context.Context) error {
	if err := s.coord.SubscribePattern(ctx, pattern, s.handle); err != nil {
		return err
	}
	slog.Info("remotesync: subscribed", "pattern", pattern)
	return nil
}

func (s *Syncer) handle(channel string, payload []byte) {
	m := channelRe.FindStringSubmatch(channel)
	if m == nil {
		slog.Warn("remotesync: received message on unrecognized channel", "channel", channel)
		metrics.RemoteDeltasReceived.WithLabelValues("malformed").Inc()
		return
	}
	channelRoomID := m[1]

	fd, err := delta.DecodeFullDeltaFromTransport(payload)
	if err != nil {
		slog.Error("remotesync: decode failed", "channel", channel, "error", err)
		metrics.RemoteDeltasReceived.WithLabelValues("malformed").Inc()
		return
	}

	// Own-echo fast path (§4.5 step 3, §9 "own-instance filtering"): drop
	// before touching the Registry at all. Room.ApplyRemoteDelta repeats
	// this check on its own seq/instanceId state; that copy is the actual
	// correctness guarantee, this one just avoids the wasted lookup.
	if fd.InstanceID == string(s.instanceID) {
		return
	}

	if fd.RoomID != channelRoomID {
		slog.Warn("remotesync: payload roomId does not match channel", "channel", channel, "payloadRoomId", fd.RoomID)
		metrics.RemoteDeltasReceived.WithLabelValues("malformed").Inc()
		return
	}

	rm, ok := s.reg.Get(types.RoomIDType(channelRoomID))
	if !ok {
		// Nobody on this instance cares about this room yet; don't create
		// one just to immediately fold in a delta nobody will read.
		return
	}

	rm.ApplyRemoteDelta(fd)
}
