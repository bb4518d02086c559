package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/logging"
)

var (
	// ErrUnknownConnection is returned for a handle that is not registered
	// or is already being torn down.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrAlreadyAuthenticated is returned when a connection presents a
	// second credential.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
)

// Handle is the opaque key of one registered connection.
type Handle string

// Conn is the transport side of a live connection. Send must not block on
// a slow peer; it reports a frame it could not queue as an error.
type Conn interface {
	Send(frame []byte) error
}

// SessionHooks receives session start and end notifications from the
// Registry. first and last report whether this is the user's first or last
// live session, so presence survives a user holding several connections.
type SessionHooks interface {
	SessionStarted(ctx context.Context, h Handle, s *Session, first bool)
	SessionEnded(ctx context.Context, h Handle, s *Session, last bool)
}

type entry struct {
	conn    Conn
	session *Session
	closing bool
}

// Registry owns the set of live connections and their sessions.
type Registry struct {
	verifier IdentityVerifier
	hooks    SessionHooks

	mu      sync.RWMutex
	entries map[Handle]*entry
	perUser map[UserID]int
}

// NewRegistry creates an empty registry that checks credentials with v.
func NewRegistry(v IdentityVerifier) *Registry {
	return &Registry{
		verifier: v,
		entries:  make(map[Handle]*entry),
		perUser:  make(map[UserID]int),
	}
}

// SetHooks installs the session lifecycle hooks. It must be called before
// the first Register.
func (r *Registry) SetHooks(h SessionHooks) {
	r.hooks = h
}

// Register adds an unauthenticated connection and returns its handle.
func (r *Registry) Register(conn Conn) Handle {
	h := Handle(uuid.New().String())

	r.mu.Lock()
	r.entries[h] = &entry{conn: conn}
	total := len(r.entries)
	r.mu.Unlock()

	l := logging.L()
	l.Debug().Str(logging.FieldConnID, string(h)).Int("connections", total).Msg("connection registered")
	return h
}

// Authenticate verifies token and attaches a Session to the connection.
// On failure the connection stays registered without a session.
func (r *Registry) Authenticate(ctx context.Context, h Handle, token string) (*Session, error) {
	r.mu.RLock()
	e, ok := r.entries[h]
	already := ok && e.session != nil
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownConnection
	}
	if already {
		return nil, ErrAlreadyAuthenticated
	}

	id, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	r.mu.Lock()
	e, ok = r.entries[h]
	if !ok || e.closing {
		r.mu.Unlock()
		return nil, ErrUnknownConnection
	}
	if e.session != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	}
	s := newSession(id)
	e.session = s
	r.perUser[id.UserID]++
	first := r.perUser[id.UserID] == 1
	r.mu.Unlock()

	if r.hooks != nil {
		r.hooks.SessionStarted(ctx, h, s, first)
	}
	return s, nil
}

// SessionOf returns the session attached to h, if any.
func (r *Registry) SessionOf(h Handle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// ConnOf returns the transport connection registered under h.
func (r *Registry) ConnOf(h Handle) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// lookup returns the entry fields under the read lock. Entries that are
// closing are returned too; callers decide whether to accept them.
func (r *Registry) lookup(h Handle) (conn Conn, s *Session, closing bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, nil, false, false
	}
	return e.conn, e.session, e.closing, true
}

// Unregister tears down h. Session cleanup runs synchronously before the
// entry is removed. Only the first call for a handle does any work; it
// reports whether this call performed the teardown.
func (r *Registry) Unregister(ctx context.Context, h Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok || e.closing {
		r.mu.Unlock()
		return false
	}
	e.closing = true
	last := false
	if e.session != nil {
		uid := e.session.UserID()
		r.perUser[uid]--
		if r.perUser[uid] <= 0 {
			delete(r.perUser, uid)
			last = true
		}
	}
	r.mu.Unlock()

	if e.session != nil && r.hooks != nil {
		r.hooks.SessionEnded(ctx, h, e.session, last)
	}

	r.mu.Lock()
	delete(r.entries, h)
	total := len(r.entries)
	r.mu.Unlock()

	l := logging.L()
	l.Debug().Str(logging.FieldConnID, string(h)).Int("connections", total).Msg("connection unregistered")
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handles returns a snapshot of every registered handle.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		out = append(out, h)
	}
	return out
}
