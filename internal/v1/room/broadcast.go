package room

import (
	"log/slog"

	"github.com/teeban10/kasagi-main/internal/v1/delta"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

// deliverLocal fans a delta out to every session attached to this instance,
// encoding once and writing to each socket. One session's write failure is
// logged and skipped rather than aborting the rest of the fan-out, mirroring
// the teacher's Broadcast/broadcastLocked pattern.
func deliverLocal(roomID types.RoomIDType, sessions []Session, fd delta.FullDelta) {
	data, err := delta.EncodeFullDelta(fd)
	if err != nil {
		slog.Error("room: encode delta for local delivery failed", "room", roomID, "error", err)
		return
	}

	for _, s := range sessions {
		if err := s.SendBinary(data); err != nil {
			slog.Warn("room: local delivery failed", "room", roomID, "session", s.ID(), "error", err)
		}
	}
}
