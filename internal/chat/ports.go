package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Directory when a room or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken is returned by an IdentityVerifier for a rejected credential.
	ErrInvalidToken = errors.New("invalid token")
)

// RoomID identifies a room in the Directory.
type RoomID int64

// UserID identifies a user in the Directory.
type UserID int64

// Identity is the result of a successful credential check.
type Identity struct {
	UserID   UserID
	Username string
}

// Room is the Directory's view of a room.
type Room struct {
	ID          RoomID
	Name        string
	Description string
	MemberCount int
	CreatedAt   time.Time
}

// User is the Directory's view of a user.
type User struct {
	ID       UserID
	Username string
	Online   bool
}

// PersistedMessage is an immutable message as stored by a MessageStore.
type PersistedMessage struct {
	ID        int64  `json:"id"`
	RoomID    RoomID `json:"roomId"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// IdentityVerifier resolves a connect-time credential to an Identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Directory provides user and room lookup plus durable membership and
// presence flags.
type Directory interface {
	FindRoom(ctx context.Context, id RoomID) (Room, error)
	FindUser(ctx context.Context, id UserID) (User, error)
	AddMember(ctx context.Context, roomID RoomID, userID UserID) error
	RemoveMember(ctx context.Context, roomID RoomID, userID UserID) error
	SetOnline(ctx context.Context, userID UserID, online bool) error
}

// Paging bounds for MessageStore.List.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ClampPage normalises paging parameters: page is at least zero and size
// lies in [1, MaxPageSize].
func ClampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	switch {
	case size < 1:
		size = 1
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// MessageStore durably appends and pages through room messages. List
// returns newest first; page counts from zero.
type MessageStore interface {
	Append(ctx context.Context, roomID RoomID, userID UserID, content string) (PersistedMessage, error)
	List(ctx context.Context, roomID RoomID, page, size int) ([]PersistedMessage, error)
}

// PresenceTracker mirrors who is online and which room they watch. It is
// advisory: failures are logged by the caller and never change core state.
type PresenceTracker interface {
	Online(ctx context.Context, userID UserID) error
	Offline(ctx context.Context, userID UserID) error
	Entered(ctx context.Context, roomID RoomID, userID UserID) error
	Exited(ctx context.Context, roomID RoomID, userID UserID) error
}

// NopPresence is a PresenceTracker that records nothing.
type NopPresence struct{}

func (NopPresence) Online(context.Context, UserID) error          { return nil }
func (NopPresence) Offline(context.Context, UserID) error         { return nil }
func (NopPresence) Entered(context.Context, RoomID, UserID) error { return nil }
func (NopPresence) Exited(context.Context, RoomID, UserID) error  { return nil }
