// Package room implements the Room actor: the single authoritative holder
// of one room's entity state, serialized behind a mutex the way the
// teacher's Room serializes client and chat-history mutation. Unlike the
// teacher's Room, which forwards opaque protobuf envelopes, a Kasagi Room
// understands its payload well enough to diff it: every mutation goes
// through ComputeDelta/ApplyDelta so only field-level changes cross the
// wire, locally and across instances.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/metrics"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

// DefaultMaxEntities is the recommended per-room entity cap from §5. It is
// applied unless overridden with SetMaxEntities.
const DefaultMaxEntities = 100

// DefaultSnapshotInterval is the recommended tick cadence between automatic
// snapshot flushes from §5. It is applied unless overridden with
// SetSnapshotInterval.
const DefaultSnapshotInterval = 100

// ErrRoomFull is returned by ApplyInput when admitting a new entity would
// exceed the room's entity cap.
var ErrRoomFull = errors.New("room: at entity capacity")

// Session is the subset of the transport layer's connection a Room needs to
// fan messages out to: one JSON control frame, one binary data frame.
type Session interface {
	ID() types.SessionIDType
	SendJSON(v any) error
	SendBinary(b []byte) error
}

func channelName(id types.RoomIDType) string {
	return fmt.Sprintf("room:%s:channel", id)
}

func snapshotKey(id types.RoomIDType) string {
	return fmt.Sprintf("room:%s:snapshot", id)
}

// Room is one authoritative, in-memory slice of the world: the entities
// belonging to this room, the sessions currently attached to it on this
// instance, and the bookkeeping needed to diff, fan out, and recover state.
type Room struct {
	ID         types.RoomIDType
	instanceID types.InstanceIDType

	mu        sync.Mutex
	lifecycle types.RoomLifecycle

	entities Entities // current authoritative state
	baseline Entities // last state a delta was computed against

	tick uint64
	seq  uint64 // unified mutation counter, local and remote (§3)

	maxEntities      int
	snapshotInterval uint64 // ticks between automatic snapshot flushes
	lastSnapshotTick uint64

	sessions map[types.SessionIDType]Session

	isApplyingRemoteDelta bool

	coord   coordinator.Coordinator
	onEmpty func(types.RoomIDType)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Entities is the authoritative entity table for a room.
type Entities = map[string]delta.Entity

// NewRoom constructs a Room in the Fresh lifecycle state. It does not
// subscribe to anything itself: cross-instance fan-in is dispatched to it
// externally by the remotesync package's single pattern subscription.
func NewRoom(id types.RoomIDType, instanceID types.InstanceIDType, coord coordinator.Coordinator, onEmpty func(types.RoomIDType)) *Room {
	r := &Room{
		ID:               id,
		instanceID:       instanceID,
		lifecycle:        types.RoomFresh,
		entities:         make(Entities),
		baseline:         make(Entities),
		sessions:         make(map[types.SessionIDType]Session),
		coord:            coord,
		onEmpty:          onEmpty,
		maxEntities:      DefaultMaxEntities,
		snapshotInterval: DefaultSnapshotInterval,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	metrics.ActiveRooms.Inc()
	return r
}

// SetMaxEntities overrides the per-room entity cap enforced by ApplyInput.
// Must be called before the room is exposed to any session.
func (r *Room) SetMaxEntities(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxEntities = n
}

// SetSnapshotInterval overrides the tick cadence between automatic snapshot
// flushes triggered by locally-originated mutations. Must be called before
// the room is exposed to any session.
func (r *Room) SetSnapshotInterval(ticks uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotInterval = ticks
}

// Shutdown cancels the room's context and waits for in-flight publish
// goroutines to drain, mirroring the teacher's Room.Shutdown.
func (r *Room) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.lifecycle = types.RoomDestroyed
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		metrics.ActiveRooms.Dec()
		metrics.RoomSessions.DeleteLabelValues(string(r.ID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join attaches a session to the room and returns a full Snapshot the
// caller should send immediately so the new session starts from a
// consistent view rather than waiting for the next delta.
func (r *Room) Join(s Session) delta.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID()] = s
	if r.lifecycle == types.RoomFresh {
		r.lifecycle = types.RoomActive
	}
	metrics.RoomSessions.WithLabelValues(string(r.ID)).Set(float64(len(r.sessions)))

	return delta.Snapshot{
		Data:       cloneEntities(r.entities),
		Seq:        r.seq,
		Tick:       r.tick,
		Timestamp:  time.Now().Unix(),
		InstanceID: string(r.instanceID),
	}
}

// Leave detaches a session. If no sessions remain, the room is marked
// Draining and onEmpty is invoked so the registry can schedule cleanup.
func (r *Room) Leave(id types.SessionIDType) {
	r.mu.Lock()
	delete(r.sessions, id)
	empty := len(r.sessions) == 0
	if empty {
		r.lifecycle = types.RoomDraining
	}
	metrics.RoomSessions.WithLabelValues(string(r.ID)).Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		go r.onEmpty(r.ID)
	}
}

// SessionCount reports the number of sessions currently attached.
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TickSeq reports the room's current tick and seq, for the registry's
// §4.3 getStats() debug surface.
func (r *Room) TickSeq() (tick, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick, r.seq
}

// Lifecycle reports the room's current lifecycle state.
func (r *Room) Lifecycle() types.RoomLifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle
}

// ApplyInput merges fields into entityId's state (creating the entity if
// absent) and stamps its lastUpdate field with the current time in Unix
// milliseconds, or one past the previous stamp when the clock has not moved
// on since it (§4.2 point 2), then diffs against the last-broadcast baseline. Since lastUpdate
// changes on every call, a successful ApplyInput against an existing or new
// entity always yields a non-empty delta and always advances seq/tick, per
// §3's invariant that any successful applyInput strictly increases seq.
// Admitting a brand new entity past the room's cap (§5) is rejected with
// ErrRoomFull; mutating an already-resident entity is never capacity
// limited.
func (r *Room) ApplyInput(entityID string, fields map[string]any) error {
	r.mu.Lock()
	existing, ok := r.entities[entityID]
	if !ok {
		if len(r.entities) >= r.maxEntities {
			r.mu.Unlock()
			return ErrRoomFull
		}
		existing = make(delta.Entity)
		r.entities[entityID] = existing
	}
	prevStamp, _ := existing["lastUpdate"].(int64)
	for k, v := range fields {
		existing[k] = v
	}
	stamp := time.Now().UnixMilli()
	if stamp <= prevStamp {
		stamp = prevStamp + 1
	}
	existing["lastUpdate"] = stamp
	r.mu.Unlock()

	r.emitIfChanged()
	return nil
}

// RemoveEntity deletes an entity (e.g. on player disconnect) and, if that
// changes observable state, emits a removal delta.
func (r *Room) RemoveEntity(entityID string) {
	r.mu.Lock()
	delete(r.entities, entityID)
	r.mu.Unlock()

	r.emitIfChanged()
}

// emitIfChanged computes the delta between the current state and the last
// broadcast baseline. If non-empty, it bumps tick/seq, delivers it to local
// sessions, publishes it to the coordinator for other instances, and
// advances the baseline.
func (r *Room) emitIfChanged() {
	r.mu.Lock()
	if r.isApplyingRemoteDelta {
		// A remote delta is being folded in on this goroutine; any
		// re-entrant emit here would just re-derive the same change and
		// double-publish it. The caller that triggered this path already
		// holds responsibility for fan-out.
		r.mu.Unlock()
		return
	}

	d := delta.ComputeDelta(r.baseline, r.entities)
	if delta.IsEmpty(d) {
		r.mu.Unlock()
		metrics.DeltasEmitted.WithLabelValues("empty").Inc()
		return
	}

	r.tick++
	r.seq++
	fd := delta.FullDelta{
		RoomID:     string(r.ID),
		Delta:      d,
		Tick:       r.tick,
		Seq:        r.seq,
		Ts:         time.Now().Unix(),
		InstanceID: string(r.instanceID),
	}
	r.baseline = cloneEntities(r.entities)
	sessions := r.snapshotSessionsLocked()

	// Snapshot cadence is driven only by locally-originated ticks (§4.2
	// point 6): a remote-delta tick jump must never trigger duplicate
	// snapshot work across the fleet.
	dueForSnapshot := r.tick-r.lastSnapshotTick >= r.snapshotInterval
	if dueForSnapshot {
		r.lastSnapshotTick = r.tick
	}
	r.mu.Unlock()

	metrics.DeltasEmitted.WithLabelValues("applied").Inc()
	deliverLocal(r.ID, sessions, fd)
	r.publishRemote(fd)
	if dueForSnapshot {
		r.asyncSnapshot()
	}
}

// asyncSnapshot persists a snapshot on a background goroutine. Failures are
// logged and swallowed per §7: the next cadence interval retries.
func (r *Room) asyncSnapshot() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.SaveSnapshot(ctx); err != nil {
			slog.Error("room: cadence snapshot save failed", "room", r.ID, "error", err)
		}
	}()
}

// ApplyRemoteDelta folds in a delta observed via the coordinator
// subscription. Own-echo and stale deltas are dropped per §4.5; everything
// else is applied and fanned out to this instance's local sessions only
// (publishing it back to the coordinator would create an echo loop).
func (r *Room) ApplyRemoteDelta(fd delta.FullDelta) {
	if fd.InstanceID == string(r.instanceID) {
		metrics.RemoteDeltasReceived.WithLabelValues("own_echo").Inc()
		return
	}

	r.mu.Lock()
	if fd.Seq <= r.seq {
		r.mu.Unlock()
		metrics.RemoteDeltasReceived.WithLabelValues("stale").Inc()
		return
	}

	r.isApplyingRemoteDelta = true
	delta.ApplyDelta(r.entities, fd.Delta)
	r.seq = fd.Seq
	if fd.Tick > r.tick {
		r.tick = fd.Tick
	}
	r.baseline = cloneEntities(r.entities)
	sessions := r.snapshotSessionsLocked()
	r.isApplyingRemoteDelta = false
	r.mu.Unlock()

	metrics.RemoteDeltasReceived.WithLabelValues("accepted").Inc()
	deliverLocal(r.ID, sessions, fd)
}

// snapshotSessionsLocked returns the attached sessions as a slice so
// delivery can happen without holding r.mu during socket I/O. Caller must
// hold r.mu.
func (r *Room) snapshotSessionsLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Room) publishRemote(fd delta.FullDelta) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		data, err := delta.EncodeFullDeltaForTransport(fd)
		if err != nil {
			slog.Error("room: encode delta failed", "room", r.ID, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.coord.Publish(ctx, channelName(r.ID), data); err != nil {
			slog.Error("room: publish delta failed", "room", r.ID, "error", err)
		}
	}()
}

// SaveSnapshot persists the room's current state to the coordinator's hash
// store at room:<id>:snapshot, per §4.2's recovery design.
func (r *Room) SaveSnapshot(ctx context.Context) error {
	r.mu.Lock()
	snap := delta.Snapshot{
		Data:       cloneEntities(r.entities),
		Seq:        r.seq,
		Tick:       r.tick,
		Timestamp:  time.Now().Unix(),
		InstanceID: string(r.instanceID),
	}
	r.mu.Unlock()

	data, err := delta.Encode(snap)
	if err != nil {
		metrics.SnapshotOps.WithLabelValues("save", "encode_error").Inc()
		return fmt.Errorf("room: encode snapshot: %w", err)
	}

	if err := r.coord.HashSet(ctx, snapshotKey(r.ID), map[string]string{"data": string(data)}); err != nil {
		metrics.SnapshotOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("room: save snapshot: %w", err)
	}

	metrics.SnapshotOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// LoadSnapshot restores room state from the coordinator's hash store, if
// present. A missing snapshot is not an error: the room simply starts
// empty, per §4.2's "best-effort recovery" note.
func (r *Room) LoadSnapshot(ctx context.Context) error {
	fields, err := r.coord.HashGetAll(ctx, snapshotKey(r.ID))
	if err != nil {
		metrics.SnapshotOps.WithLabelValues("load", "error").Inc()
		return fmt.Errorf("room: load snapshot: %w", err)
	}

	raw, ok := fields["data"]
	if !ok {
		metrics.SnapshotOps.WithLabelValues("load", "absent").Inc()
		return nil
	}

	var snap delta.Snapshot
	if err := delta.Decode([]byte(raw), &snap); err != nil {
		metrics.SnapshotOps.WithLabelValues("load", "decode_error").Inc()
		return fmt.Errorf("room: decode snapshot: %w", err)
	}

	r.mu.Lock()
	r.entities = cloneEntities(snap.Data)
	r.baseline = cloneEntities(snap.Data)
	r.seq = snap.Seq
	r.tick = snap.Tick
	r.mu.Unlock()

	metrics.SnapshotOps.WithLabelValues("load", "ok").Inc()
	slog.Info("room: restored from snapshot", "room", r.ID, "seq", snap.Seq, "entities", len(snap.Data))
	return nil
}

func cloneEntities(e Entities) Entities {
	out := make(Entities, len(e))
	for id, fields := range e {
		clone := make(delta.Entity, len(fields))
		for k, v := range fields {
			clone[k] = v
		}
		out[id] = clone
	}
	return out
}
