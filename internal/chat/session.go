package chat

import "sync"

// Session is the authenticated identity and current room bound to one
// connection. The room pointer is only written by the RoomTable while it
// holds its own lock, so readers see it change together with room sets.
type Session struct {
	userID   UserID
	username string

	mu     sync.RWMutex
	room   RoomID
	inRoom bool
}

func newSession(id Identity) *Session {
	return &Session{userID: id.UserID, username: id.Username}
}

// UserID returns the session's user id.
func (s *Session) UserID() UserID { return s.userID }

// Username returns the session's username.
func (s *Session) Username() string { return s.username }

// CurrentRoom returns the room the connection occupies, if any.
func (s *Session) CurrentRoom() (RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.inRoom
}

func (s *Session) setRoom(id RoomID) {
	s.mu.Lock()
	s.room = id
	s.inRoom = true
	s.mu.Unlock()
}

func (s *Session) clearRoom() {
	s.mu.Lock()
	s.room = 0
	s.inRoom = false
	s.mu.Unlock()
}
