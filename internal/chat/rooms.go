package chat

import (
	"context"
	"sync"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// RoomTable maps each room to the connections currently subscribed to its
// broadcasts. A connection is in at most one room, mirrored by its
// Session's current room. Both are changed under mu, so a concurrent
// Broadcast sees a connection in exactly one of the old or new room.
//
// Lock order is RoomTable.mu, then Registry.mu, then Session.mu.
type RoomTable struct {
	registry *Registry

	mu    sync.RWMutex
	rooms map[RoomID]map[Handle]Conn
}

// NewRoomTable creates an empty table whose handles resolve through reg.
func NewRoomTable(reg *Registry) *RoomTable {
	return &RoomTable{
		registry: reg,
		rooms:    make(map[RoomID]map[Handle]Conn),
	}
}

// Join subscribes h to roomID, first removing it from any other room. It
// returns the room that was vacated, if any. Joining the room the
// connection already occupies is a no-op.
func (t *RoomTable) Join(h Handle, roomID RoomID) (prev RoomID, moved bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, s, closing, ok := t.registry.lookup(h)
	if !ok || closing {
		return 0, false, ErrUnknownConnection
	}
	if s == nil {
		return 0, false, ErrUnknownConnection
	}

	if cur, in := s.CurrentRoom(); in {
		if cur == roomID {
			return 0, false, nil
		}
		t.removeLocked(cur, h)
		prev, moved = cur, true
	}

	members, ok := t.rooms[roomID]
	if !ok {
		members = make(map[Handle]Conn)
		t.rooms[roomID] = members
	}
	members[h] = conn
	s.setRoom(roomID)

	l := logging.L()
	l.Debug().Str(logging.FieldConnID, string(h)).Int64(logging.FieldRoomID, int64(roomID)).Int("members", len(members)).Msg("joined room")
	return prev, moved, nil
}

// Leave removes h from whatever room it occupies and reports which room
// that was. It is a no-op for a connection that is not in a room.
func (t *RoomTable) Leave(h Handle) (RoomID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.leaveLocked(h, 0, false)
}

// LeaveRoom removes h from roomID only if that is the room it occupies.
func (t *RoomTable) LeaveRoom(h Handle, roomID RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, left := t.leaveLocked(h, roomID, true)
	return left
}

func (t *RoomTable) leaveLocked(h Handle, want RoomID, match bool) (RoomID, bool) {
	_, s, _, ok := t.registry.lookup(h)
	if !ok || s == nil {
		return 0, false
	}

	cur, in := s.CurrentRoom()
	if !in || (match && cur != want) {
		return 0, false
	}

	t.removeLocked(cur, h)
	s.clearRoom()

	l := logging.L()
	l.Debug().Str(logging.FieldConnID, string(h)).Int64(logging.FieldRoomID, int64(cur)).Msg("left room")
	return cur, true
}

func (t *RoomTable) removeLocked(roomID RoomID, h Handle) {
	members, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(members, h)
	if len(members) == 0 {
		delete(t.rooms, roomID)
	}
}

// Contains reports whether h is subscribed to roomID.
func (t *RoomTable) Contains(h Handle, roomID RoomID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.rooms[roomID][h]
	return ok
}

// MembersOf returns the number of connections subscribed to roomID.
func (t *RoomTable) MembersOf(roomID RoomID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID])
}

// Rooms returns the number of rooms with at least one subscriber.
func (t *RoomTable) Rooms() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

type recipient struct {
	handle Handle
	conn   Conn
}

func (t *RoomTable) snapshot(roomID RoomID) []recipient {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.rooms[roomID]
	out := make([]recipient, 0, len(members))
	for h, c := range members {
		out = append(out, recipient{handle: h, conn: c})
	}
	return out
}

// Broadcast delivers event to every connection subscribed to roomID when
// the call starts, the sender included. A failed send is logged and does
// not affect the other recipients. It returns the number of connections
// the frame was queued for.
func (t *RoomTable) Broadcast(ctx context.Context, roomID RoomID, event string, payload any) int {
	l := logging.Ctx(ctx)

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		l.Error().Err(err).Str(logging.FieldEvent, event).Msg("broadcast encode failed")
		return 0
	}

	targets := t.snapshot(roomID)
	delivered := 0
	for _, r := range targets {
		if err := r.conn.Send(frame); err != nil {
			l.Warn().Err(err).
				Str(logging.FieldConnID, string(r.handle)).
				Int64(logging.FieldRoomID, int64(roomID)).
				Str(logging.FieldEvent, event).
				Msg("broadcast delivery failed")
			continue
		}
		delivered++
	}

	l.Debug().Int64(logging.FieldRoomID, int64(roomID)).Str(logging.FieldEvent, event).
		Int("targets", len(targets)).Int("delivered", delivered).Msg("broadcast")
	return delivered
}
