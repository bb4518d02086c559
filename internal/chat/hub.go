package chat

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// Deps are the collaborators the coordinator consumes.
type Deps struct {
	Verifier  IdentityVerifier
	Directory Directory
	Messages  MessageStore
	// Presence is optional.
	Presence PresenceTracker
}

// Options configures a Hub.
type Options struct {
	RecordMembership bool
	CallTimeout      time.Duration
}

// Hub wires the Registry, RoomTable, Lifecycle and Router into the three
// calls a transport needs: Connect, Dispatch and Disconnect.
type Hub struct {
	Registry  *Registry
	Rooms     *RoomTable
	Lifecycle *Lifecycle
	Router    *Router
}

// NewHub builds a coordinator over deps.
func NewHub(deps Deps, opts Options) *Hub {
	reg := NewRegistry(deps.Verifier)
	rooms := NewRoomTable(reg)
	lc := NewLifecycle(rooms, deps.Directory, deps.Presence, opts.CallTimeout)
	reg.SetHooks(lc)

	router := NewRouter(reg, rooms, lc, deps.Directory, deps.Messages, RouterOptions{
		RecordMembership: opts.RecordMembership,
		CallTimeout:      opts.CallTimeout,
	})

	return &Hub{
		Registry:  reg,
		Rooms:     rooms,
		Lifecycle: lc,
		Router:    router,
	}
}

// Connect registers conn and, when token is non-empty, authenticates it.
// A failed credential leaves the connection open but without a session.
func (h *Hub) Connect(ctx context.Context, conn Conn, token string) (Handle, *Session) {
	handle := h.Registry.Register(conn)
	l := logging.Ctx(ctx).With().Str(logging.FieldConnID, string(handle)).Logger()

	if token == "" {
		l.Info().Msg("connected without token")
		return handle, nil
	}

	s, err := h.Registry.Authenticate(ctx, handle, token)
	if err != nil {
		l.Info().Err(err).Msg("connected with rejected token")
		return handle, nil
	}
	return handle, s
}

// Dispatch handles one inbound frame from handle.
func (h *Hub) Dispatch(ctx context.Context, handle Handle, frame []byte) {
	h.Router.Dispatch(ctx, handle, frame)
}

// Disconnect tears down handle. It is safe to call more than once.
func (h *Hub) Disconnect(ctx context.Context, handle Handle) {
	h.Registry.Unregister(ctx, handle)
}

// Shutdown disconnects every remaining connection so each session's
// cleanup runs before the process exits.
func (h *Hub) Shutdown(ctx context.Context) {
	handles := h.Registry.Handles()
	for _, handle := range handles {
		if ctx.Err() != nil {
			break
		}
		h.Registry.Unregister(ctx, handle)
	}

	l := logging.Ctx(ctx)
	l.Info().Int("connections", len(handles)).Msg("chat hub drained")
}
