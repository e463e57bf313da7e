// Package registry implements the Room Registry: the factory and directory
// for every Room resident on this instance, grounded on the teacher's Hub
// (session/hub.go) — a mutex-protected map with grace-period cleanup — but
// adding in-flight creation deduplication so concurrent joins to a brand
// new room never race into two Room instances.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/room"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

// Registry owns every Room resident on this instance.
type Registry struct {
	mu    sync.Mutex
	rooms map[types.RoomIDType]*room.Room

	// inFlight holds a channel per roomId currently being constructed.
	// Concurrent getOrCreate calls for the same id wait on the same
	// channel instead of each constructing their own Room.
	inFlight map[types.RoomIDType]chan struct{}

	pendingCleanup map[types.RoomIDType]*time.Timer
	cleanupGrace   time.Duration

	coord      coordinator.Coordinator
	instanceID types.InstanceIDType

	maxEntities      int
	snapshotInterval uint64
}

// New creates an empty Registry.
func New(coord coordinator.Coordinator, instanceID types.InstanceIDType) *Registry {
	return &Registry{
		rooms:          make(map[types.RoomIDType]*room.Room),
		inFlight:       make(map[types.RoomIDType]chan struct{}),
		pendingCleanup: make(map[types.RoomIDType]*time.Timer),
		cleanupGrace:   5 * time.Second,
		coord:          coord,
		instanceID:     instanceID,
	}
}

// Configure overrides the per-room resource bounds (§5) applied to every
// Room created from this point forward. Rooms already resident are
// unaffected; call this once during bootstrap, before the first join.
func (r *Registry) Configure(maxEntities int, snapshotInterval uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxEntities = maxEntities
	r.snapshotInterval = snapshotInterval
}

// GetOrCreate returns the Room for id, creating and snapshot-loading it if
// this is the first reference on this instance. Concurrent calls for the
// same id that arrive while creation is in flight coalesce onto the single
// Room being built rather than each building their own.
func (r *Registry) GetOrCreate(ctx context.Context, id types.RoomIDType) *room.Room {
	for {
		r.mu.Lock()
		if rm, ok := r.rooms[id]; ok {
			r.cancelPendingCleanupLocked(id)
			r.mu.Unlock()
			return rm
		}

		if wait, building := r.inFlight[id]; building {
			r.mu.Unlock()
			<-wait
			continue
		}

		wait := make(chan struct{})
		r.inFlight[id] = wait
		r.mu.Unlock()

		rm := room.NewRoom(id, r.instanceID, r.coord, r.onEmpty)
		r.mu.Lock()
		if r.maxEntities > 0 {
			rm.SetMaxEntities(r.maxEntities)
		}
		if r.snapshotInterval > 0 {
			rm.SetSnapshotInterval(r.snapshotInterval)
		}
		r.mu.Unlock()
		if err := rm.LoadSnapshot(ctx); err != nil {
			slog.Warn("registry: snapshot load failed, starting empty", "room", id, "error", err)
		}

		r.mu.Lock()
		r.rooms[id] = rm
		delete(r.inFlight, id)
		r.mu.Unlock()
		close(wait)

		return rm
	}
}

// Join is the Session Dispatcher's entry point for §4.6's join flow:
// getOrCreate the room, attach session to it, and return both the Room and
// the initial snapshot the caller must deliver to the new session.
func (r *Registry) Join(ctx context.Context, id types.RoomIDType, session room.Session) (*room.Room, delta.Snapshot) {
	rm := r.GetOrCreate(ctx, id)
	snap := rm.Join(session)
	return rm, snap
}

// Leave detaches sessionID from roomId's room, if resident. It is a no-op
// if the room isn't resident on this instance (already destroyed, or
// never created here).
func (r *Registry) Leave(id types.RoomIDType, sessionID types.SessionIDType) {
	rm, ok := r.Get(id)
	if !ok {
		return
	}
	rm.Leave(sessionID)
}

// Get returns the Room for id if it is already resident, without creating
// one.
func (r *Registry) Get(id types.RoomIDType) (*room.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

// onEmpty is invoked by a Room when its last local session leaves. Deletion
// is delayed by cleanupGrace so a client reconnecting within the window
// finds the same Room rather than a freshly emptied one.
func (r *Registry) onEmpty(id types.RoomIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelPendingCleanupLocked(id)

	timer := time.AfterFunc(r.cleanupGrace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		rm, ok := r.rooms[id]
		if !ok || rm.SessionCount() != 0 {
			delete(r.pendingCleanup, id)
			return
		}

		delete(r.rooms, id)
		delete(r.pendingCleanup, id)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rm.SaveSnapshot(ctx); err != nil {
			slog.Error("registry: final snapshot save failed", "room", id, "error", err)
		}
		if err := rm.Shutdown(ctx); err != nil {
			slog.Error("registry: room shutdown failed", "room", id, "error", err)
		}

		slog.Info("registry: removed empty room", "room", id)
	})
	r.pendingCleanup[id] = timer
}

func (r *Registry) cancelPendingCleanupLocked(id types.RoomIDType) {
	if timer, ok := r.pendingCleanup[id]; ok {
		timer.Stop()
		delete(r.pendingCleanup, id)
	}
}

// SaveAllSnapshots persists every resident room, used during graceful
// shutdown so in-memory state isn't lost across a deploy.
func (r *Registry) SaveAllSnapshots(ctx context.Context) {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rm := range rooms {
		wg.Add(1)
		go func(rm *room.Room) {
			defer wg.Done()
			if err := rm.SaveSnapshot(ctx); err != nil {
				slog.Error("registry: snapshot save failed during shutdown", "room", rm.ID, "error", err)
			}
		}(rm)
	}
	wg.Wait()
}

// RoomStats is one room's row in §4.3's getStats() shape.
type RoomStats struct {
	RoomID   string `json:"roomId"`
	Sessions int    `json:"sessions"`
	Tick     uint64 `json:"tick"`
	Seq      uint64 `json:"seq"`
}

// Stats is the registry-wide summary returned by §4.3's getStats(), used by
// the /debug/rooms page.
type Stats struct {
	TotalRooms    int         `json:"totalRooms"`
	TotalSessions int         `json:"totalSessions"`
	Rooms         []RoomStats `json:"rooms"`
}

// GetStats snapshots room and session counts for /debug/rooms, per §4.3's
// getStats() contract.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	stats := Stats{TotalRooms: len(rooms), Rooms: make([]RoomStats, 0, len(rooms))}
	for _, rm := range rooms {
		sessions := rm.SessionCount()
		tick, seq := rm.TickSeq()
		stats.TotalSessions += sessions
		stats.Rooms = append(stats.Rooms, RoomStats{
			RoomID:   string(rm.ID),
			Sessions: sessions,
			Tick:     tick,
			Seq:      seq,
		})
	}
	return stats
}
