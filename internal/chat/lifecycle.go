package chat

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// Lifecycle applies the side effects of a session starting and ending:
// durable presence flips, the presence mirror, and the implicit leave of
// a room whose connection went away.
type Lifecycle struct {
	rooms     *RoomTable
	directory Directory
	presence  PresenceTracker
	timeout   time.Duration
}

// NewLifecycle creates a Lifecycle. timeout bounds each collaborator call;
// zero means no bound beyond the caller's context.
func NewLifecycle(rooms *RoomTable, dir Directory, presence PresenceTracker, timeout time.Duration) *Lifecycle {
	if presence == nil {
		presence = NopPresence{}
	}
	return &Lifecycle{
		rooms:     rooms,
		directory: dir,
		presence:  presence,
		timeout:   timeout,
	}
}

func (lc *Lifecycle) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if lc.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, lc.timeout)
}

// SessionStarted marks the user online. Failures are logged only.
func (lc *Lifecycle) SessionStarted(ctx context.Context, h Handle, s *Session, first bool) {
	l := logging.Ctx(ctx).With().
		Str(logging.FieldConnID, string(h)).
		Int64(logging.FieldUserID, int64(s.UserID())).
		Logger()

	l.Info().Str(logging.FieldUsername, s.Username()).Bool("first", first).Msg("session started")
	if !first {
		return
	}

	cctx, cancel := lc.callCtx(ctx)
	defer cancel()

	if err := lc.directory.SetOnline(cctx, s.UserID(), true); err != nil {
		l.Warn().Err(err).Msg("failed to mark user online")
	}
	if err := lc.presence.Online(cctx, s.UserID()); err != nil {
		l.Warn().Err(err).Msg("presence tracker online failed")
	}
}

// SessionEnded removes the connection from its room, telling the remaining
// subscribers, and marks the user offline when this was their last session.
func (lc *Lifecycle) SessionEnded(ctx context.Context, h Handle, s *Session, last bool) {
	l := logging.Ctx(ctx).With().
		Str(logging.FieldConnID, string(h)).
		Int64(logging.FieldUserID, int64(s.UserID())).
		Logger()

	if roomID, ok := lc.rooms.Leave(h); ok {
		lc.rooms.Broadcast(ctx, roomID, EventUserLeftRoom, UserRef{UserID: s.UserID(), Username: s.Username()})
		lc.exited(ctx, roomID, s)
		l.Info().Int64(logging.FieldRoomID, int64(roomID)).Msg("left room on disconnect")
	}

	if last {
		cctx, cancel := lc.callCtx(ctx)
		if err := lc.directory.SetOnline(cctx, s.UserID(), false); err != nil {
			l.Warn().Err(err).Msg("failed to mark user offline")
		}
		if err := lc.presence.Offline(cctx, s.UserID()); err != nil {
			l.Warn().Err(err).Msg("presence tracker offline failed")
		}
		cancel()
	}

	l.Info().Bool("last", last).Msg("session ended")
}

func (lc *Lifecycle) entered(ctx context.Context, roomID RoomID, s *Session) {
	cctx, cancel := lc.callCtx(ctx)
	defer cancel()

	if err := lc.presence.Entered(cctx, roomID, s.UserID()); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("presence tracker enter failed")
	}
}

func (lc *Lifecycle) exited(ctx context.Context, roomID RoomID, s *Session) {
	cctx, cancel := lc.callCtx(ctx)
	defer cancel()

	if err := lc.presence.Exited(cctx, roomID, s.UserID()); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("presence tracker exit failed")
	}
}
