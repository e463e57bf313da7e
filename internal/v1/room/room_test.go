package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	id     types.SessionIDType
	mu     sync.Mutex
	json   []any
	binary [][]byte
	fail   bool
}

func (f *fakeSession) ID() types.SessionIDType { return f.id }

func (f *fakeSession) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.json = append(f.json, v)
	return nil
}

func (f *fakeSession) SendBinary(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.binary = append(f.binary, b)
	return nil
}

func (f *fakeSession) lastDelta(t *testing.T) delta.FullDelta {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.binary)
	fd, err := delta.DecodeFullDelta(f.binary[len(f.binary)-1])
	require.NoError(t, err)
	return fd
}

func newTestRoom() (*Room, *coordinator.MemoryCoordinator) {
	mc := coordinator.NewMemoryCoordinator()
	r := NewRoom("r1", "instance-a", mc, nil)
	return r, mc
}

func TestRoom_ApplyInput_EmitsDeltaToLocalSessions(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.ApplyInput("p1", map[string]any{"x": 10.0})

	fd := s.lastDelta(t)
	assert.Equal(t, "r1", fd.RoomID)
	fields := fd.Delta["p1"].(map[string]any)
	assert.Equal(t, 10.0, fields["x"])
}

func TestRoom_ApplyInput_StampsLastUpdateEvenOnIdenticalPayload(t *testing.T) {
	// §4.2 point 2 stamps lastUpdate on every ApplyInput, so even a
	// byte-identical payload still advances seq/tick and emits a delta
	// (S1/S2): lastUpdate is itself a changed field every time.
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)
	r.ApplyInput("p1", map[string]any{"x": 10.0})

	r.ApplyInput("p1", map[string]any{"x": 10.0})

	s.mu.Lock()
	count := len(s.binary)
	s.mu.Unlock()
	assert.Equal(t, 2, count, "lastUpdate stamping makes every ApplyInput call observably mutate state")
	assert.Equal(t, uint64(2), r.seq)
}

func TestRoom_ApplyInput_MinimalDelta(t *testing.T) {
	// S2: after one field is set, a follow-up input touching only a
	// different field must not re-include the untouched one.
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)
	r.ApplyInput("p1", map[string]any{"x": 10.0, "y": 12.0})

	r.ApplyInput("p1", map[string]any{"x": 11.0})

	fd := s.lastDelta(t)
	fields := fd.Delta["p1"].(map[string]any)
	assert.Equal(t, 11.0, fields["x"])
	assert.Contains(t, fields, "lastUpdate")
	_, yPresent := fields["y"]
	assert.False(t, yPresent, "unchanged fields must be omitted from the emitted delta")
}

func TestRoom_RemoveEntity_NonexistentIsTrueNoOp(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.RemoveEntity("never-existed")

	s.mu.Lock()
	count := len(s.binary)
	s.mu.Unlock()
	assert.Equal(t, 0, count, "removing an absent entity is a genuine no-op")
}

func TestRoom_RemoveEntity_EmitsRemoval(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)
	r.ApplyInput("p1", map[string]any{"x": 1.0})

	r.RemoveEntity("p1")

	fd := s.lastDelta(t)
	_, present := fd.Delta["p1"]
	require.True(t, present)
	assert.Nil(t, fd.Delta["p1"])
}

func TestRoom_ApplyRemoteDelta_OwnEchoDropped(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 1.0}},
		Seq:        1,
		InstanceID: "instance-a",
	})

	s.mu.Lock()
	count := len(s.binary)
	s.mu.Unlock()
	assert.Equal(t, 0, count, "a delta stamped with our own instance id must not be applied")
}

func TestRoom_ApplyRemoteDelta_StaleDropped(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 1.0}},
		Seq:        5,
		InstanceID: "instance-b",
	})
	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 2.0}},
		Seq:        3,
		InstanceID: "instance-b",
	})

	fd := s.lastDelta(t)
	fields := fd.Delta["p2"].(map[string]any)
	assert.Equal(t, 1.0, fields["x"], "a lower seq than already accepted must be rejected")
}

func TestRoom_ApplyRemoteDelta_AcceptedAppliesAndDelivers(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 1.0}},
		Tick:       1,
		Seq:        1,
		InstanceID: "instance-b",
	})

	fd := s.lastDelta(t)
	fields := fd.Delta["p2"].(map[string]any)
	assert.Equal(t, 1.0, fields["x"])

	tick, seq := r.TickSeq()
	assert.Equal(t, uint64(1), seq, "room.seq must equal fd.seq after acceptance")
	assert.Equal(t, uint64(1), tick)
}

func TestRoom_ApplyRemoteDelta_UnifiesSeqWithLocalMutations(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)

	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 1.0}},
		Tick:       5,
		Seq:        5,
		InstanceID: "instance-b",
	})

	r.ApplyInput("p1", map[string]any{"x": 1.0})

	_, seq := r.TickSeq()
	assert.Equal(t, uint64(6), seq, "a local mutation after a remote jump must continue the same seq counter, not a separate one")
}

func TestRoom_Join_ReturnsConsistentSnapshot(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	r.ApplyInput("p1", map[string]any{"x": 1.0})
	r.ApplyInput("p2", map[string]any{"x": 2.0})

	s := &fakeSession{id: "late-joiner"}
	snap := r.Join(s)

	assert.Len(t, snap.Data, 2)
	assert.Equal(t, 1.0, snap.Data["p1"]["x"])
}

func TestRoom_Leave_TriggersOnEmptyWhenLastSessionLeaves(t *testing.T) {
	mc := coordinator.NewMemoryCoordinator()
	emptied := make(chan types.RoomIDType, 1)
	r := NewRoom("r1", "instance-a", mc, func(id types.RoomIDType) {
		emptied <- id
	})
	defer r.Shutdown(context.Background())

	s := &fakeSession{id: "s1"}
	r.Join(s)
	r.Leave(s.ID())

	select {
	case id := <-emptied:
		assert.Equal(t, types.RoomIDType("r1"), id)
	case <-time.After(time.Second):
		t.Fatal("onEmpty was not invoked")
	}
	assert.Equal(t, types.RoomDraining, r.Lifecycle())
}

func TestRoom_SaveAndLoadSnapshot_RoundTrip(t *testing.T) {
	r, _ := newTestRoom()
	defer r.Shutdown(context.Background())

	r.ApplyInput("p1", map[string]any{"x": 1.0, "name": "alice"})
	require.NoError(t, r.SaveSnapshot(context.Background()))

	r2, _ := newTestRoom()
	defer r2.Shutdown(context.Background())
	r2.coord = r.coord // share the same coordinator-backed store

	require.NoError(t, r2.LoadSnapshot(context.Background()))
	snap := r2.Join(&fakeSession{id: "s2"})
	assert.Equal(t, "alice", snap.Data["p1"]["name"])
}

func TestRoom_ApplyRemoteDelta_DoesNotRepublish(t *testing.T) {
	r, mc := newTestRoom()
	defer r.Shutdown(context.Background())

	published := make(chan []byte, 4)
	mc.SubscribePattern(context.Background(), "room:*:channel", func(channel string, payload []byte) {
		published <- payload
	})

	r.ApplyRemoteDelta(delta.FullDelta{
		RoomID:     "r1",
		Delta:      delta.EntityDelta{"p2": map[string]any{"x": 1.0}},
		Seq:        1,
		InstanceID: "instance-b",
	})

	select {
	case <-published:
		t.Fatal("applying a remote delta must not re-publish it to the coordinator")
	case <-time.After(100 * time.Millisecond):
	}
}
