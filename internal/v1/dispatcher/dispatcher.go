// Package dispatcher implements the Session Dispatcher (§4.6): the
// boundary that translates inbound client JSON control frames (join,
// input) and socket disconnects into Room Registry operations, and
// translates the results back into the outbound wire protocol (joined,
// left, error, and the binary snapshot frame). Grounded on the teacher's
// session.Hub.handleClientMessage / Room.Router dispatch, generalized from
// a fixed signaling vocabulary to KasagiEngine's join/input pair.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/registry"
	"github.com/teeban10/kasagi-main/internal/v1/room"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

// Error codes from §6's wire protocol.
const (
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeRoomFull        = "ROOM_FULL"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInvalidRoom     = "INVALID_ROOM"
	CodeWrongRoom       = "WRONG_ROOM"
	CodeInvalidType     = "INVALID_TYPE"
	CodeParseError      = "PARSE_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeConnectionError = "CONNECTION_ERROR"
)

// Conn is the minimal transport capability the dispatcher needs from a
// socket: one JSON control channel, one binary data channel. The gorilla
// websocket pump in internal/v1/transport satisfies this.
type Conn interface {
	SendJSON(v any) error
	SendBinary(b []byte) error
}

// Session binds one client connection to at most one room and player at a
// time (§3). The Session Dispatcher owns its lifecycle; Rooms only hold a
// non-owning reference for broadcast, through the room.Session interface
// this type satisfies.
type Session struct {
	id   types.SessionIDType
	conn Conn

	mu       sync.Mutex
	roomID   types.RoomIDType
	playerID types.PlayerIDType
}

// NewSession wraps conn as a dispatcher Session identified by id.
func NewSession(id types.SessionIDType, conn Conn) *Session {
	return &Session{id: id, conn: conn}
}

// ID satisfies room.Session.
func (s *Session) ID() types.SessionIDType { return s.id }

// SendJSON satisfies room.Session by delegating to the underlying socket.
func (s *Session) SendJSON(v any) error { return s.conn.SendJSON(v) }

// SendBinary satisfies room.Session by delegating to the underlying socket.
func (s *Session) SendBinary(b []byte) error { return s.conn.SendBinary(b) }

func (s *Session) roomAndPlayer() (types.RoomIDType, types.PlayerIDType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.playerID
}

func (s *Session) setRoomAndPlayer(roomID types.RoomIDType, playerID types.PlayerIDType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID, s.playerID = roomID, playerID
}

func (s *Session) clearRoomAndPlayer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID, s.playerID = "", ""
}

var _ room.Session = (*Session)(nil)

// inboundMessage covers both JSON control frame shapes from §6: fields a
// given type doesn't use are simply left zero.
type inboundMessage struct {
	Type     string         `json:"type"`
	RoomID   string         `json:"roomId"`
	PlayerID string         `json:"playerId,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type joinedMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type leftMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// snapshotFrame is the binary-encoded initial-state message delivered
// immediately after a successful join, per §6's "snapshot" wire record.
// It is a dispatcher-owned envelope, distinct from delta.Snapshot (the
// persisted/replicated form): the wire frame additionally names the room
// and a "type" discriminator so a client can tell it apart from a "delta"
// frame without a schema.
type snapshotFrame struct {
	Type   string        `msgpack:"type"`
	RoomID string        `msgpack:"roomId"`
	State  snapshotState `msgpack:"state"`
	Tick   uint64        `msgpack:"tick"`
	Seq    uint64        `msgpack:"seq"`
}

type snapshotState struct {
	Entities map[string]delta.Entity `msgpack:"entities"`
	Tick     uint64                  `msgpack:"tick"`
	Seq      uint64                  `msgpack:"seq"`
}

// Dispatcher translates inbound client JSON control frames into Room
// Registry operations and replies on the wire protocol described in §6.
type Dispatcher struct {
	reg *registry.Registry
}

// New constructs a Dispatcher bound to a single process-wide Registry.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// HandleMessage parses one inbound JSON control frame and routes it.
// Parse failures and unknown types reply with the matching error code; the
// socket itself is never closed by this call.
func (d *Dispatcher) HandleMessage(ctx context.Context, s *Session, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(s, CodeParseError, "malformed JSON message")
		return
	}

	switch msg.Type {
	case "join":
		d.handleJoin(ctx, s, msg)
	case "input":
		d.handleInput(s, msg)
	default:
		d.sendError(s, CodeInvalidType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// handleJoin implements §4.6's join translation: leave any previously
// joined room, assign a playerId if the client didn't supply one, attach
// to the Registry, and reply with joined{} followed by the binary
// snapshot frame.
func (d *Dispatcher) handleJoin(ctx context.Context, s *Session, msg inboundMessage) {
	if msg.RoomID == "" {
		d.sendError(s, CodeInvalidRoom, "roomId is required")
		return
	}

	if prevRoom, _ := s.roomAndPlayer(); prevRoom != "" {
		d.leaveWithAck(prevRoom, s)
	}

	playerID := msg.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}

	roomID := types.RoomIDType(msg.RoomID)
	rm, snap := d.reg.Join(ctx, roomID, s)
	s.setRoomAndPlayer(roomID, types.PlayerIDType(playerID))

	if err := s.SendJSON(joinedMessage{Type: "joined", RoomID: msg.RoomID, PlayerID: playerID}); err != nil {
		slog.Warn("dispatcher: failed to send joined ack", "session", s.ID(), "error", err)
	}

	frame := snapshotFrame{
		Type:   "snapshot",
		RoomID: msg.RoomID,
		State: snapshotState{
			Entities: snap.Data,
			Tick:     snap.Tick,
			Seq:      snap.Seq,
		},
		Tick: snap.Tick,
		Seq:  snap.Seq,
	}
	data, err := delta.Encode(frame)
	if err != nil {
		slog.Error("dispatcher: failed to encode snapshot frame", "room", rm.ID, "error", err)
		return
	}
	if err := s.SendBinary(data); err != nil {
		slog.Warn("dispatcher: failed to send snapshot frame", "session", s.ID(), "error", err)
	}
}

// handleInput implements §4.6's input translation and validation.
func (d *Dispatcher) handleInput(s *Session, msg inboundMessage) {
	if msg.RoomID == "" {
		d.sendError(s, CodeInvalidRoom, "roomId is required")
		return
	}
	if msg.PlayerID == "" {
		d.sendError(s, CodeInvalidInput, "playerId is required")
		return
	}

	currentRoom, _ := s.roomAndPlayer()
	if currentRoom != types.RoomIDType(msg.RoomID) {
		d.sendError(s, CodeWrongRoom, "input targets a room this session has not joined")
		return
	}

	rm, ok := d.reg.Get(currentRoom)
	if !ok {
		d.sendError(s, CodeRoomNotFound, "room no longer exists")
		return
	}

	if err := rm.ApplyInput(msg.PlayerID, msg.Payload); err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			d.sendError(s, CodeRoomFull, "room is at capacity")
			return
		}
		slog.Error("dispatcher: apply input failed", "room", currentRoom, "error", err)
		d.sendError(s, CodeInternalError, "failed to apply input")
	}
}

// HandleDisconnect implements §4.6's disconnect translation: detach from
// the Registry and, if the session had an assigned player entity, remove
// it so its departure is visible to the rest of the room (S7). The socket
// is already going away, so no JSON ack is sent.
func (d *Dispatcher) HandleDisconnect(s *Session) {
	roomID, playerID := s.roomAndPlayer()
	if roomID == "" {
		return
	}

	d.reg.Leave(roomID, s.ID())
	if playerID != "" {
		if rm, ok := d.reg.Get(roomID); ok {
			rm.RemoveEntity(string(playerID))
		}
	}
	s.clearRoomAndPlayer()
}

// leaveWithAck detaches s from roomID and sends a left{} ack, used when a
// still-open socket switches rooms via a second join.
func (d *Dispatcher) leaveWithAck(roomID types.RoomIDType, s *Session) {
	d.reg.Leave(roomID, s.ID())
	if err := s.SendJSON(leftMessage{Type: "left", RoomID: string(roomID)}); err != nil {
		slog.Debug("dispatcher: failed to send left ack", "session", s.ID(), "error", err)
	}
}

func (d *Dispatcher) sendError(s *Session, code, message string) {
	if err := s.SendJSON(errorMessage{Type: "error", Code: code, Message: message}); err != nil {
		slog.Warn("dispatcher: failed to send error frame", "session", s.ID(), "error", err)
	}
}
