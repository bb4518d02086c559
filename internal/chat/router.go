package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// call is one inbound event from an authenticated session.
type call struct {
	handle  Handle
	conn    Conn
	session *Session
	req     request
}

type handlerFunc func(ctx context.Context, c *call)

// RouterOptions tunes the Router.
type RouterOptions struct {
	// RecordMembership mirrors join_room and leave_room into the
	// Directory's durable membership list.
	RecordMembership bool
	// CallTimeout bounds each Directory or MessageStore call.
	CallTimeout time.Duration
}

// Router is the single dispatch point for inbound events. It must be
// called serially per connection; different connections may call it
// concurrently.
type Router struct {
	registry  *Registry
	rooms     *RoomTable
	lifecycle *Lifecycle
	directory Directory
	messages  MessageStore
	opts      RouterOptions

	handlers [numKinds]handlerFunc
}

// NewRouter creates a Router over the given core components and
// collaborators.
func NewRouter(reg *Registry, rooms *RoomTable, lc *Lifecycle, dir Directory, store MessageStore, opts RouterOptions) *Router {
	r := &Router{
		registry:  reg,
		rooms:     rooms,
		lifecycle: lc,
		directory: dir,
		messages:  store,
		opts:      opts,
	}
	r.handlers = [numKinds]handlerFunc{
		KindJoinRoom:    r.joinRoom,
		KindLeaveRoom:   r.leaveRoom,
		KindSendMessage: r.sendMessage,
		KindTypingStart: r.typingStart,
		KindTypingStop:  r.typingStop,
	}
	return r
}

// Dispatch decodes one wire frame from h and handles it.
func (r *Router) Dispatch(ctx context.Context, h Handle, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		if conn, ok := r.registry.ConnOf(h); ok {
			l := logging.Ctx(ctx)
			l.Debug().Err(err).Str(logging.FieldConnID, string(h)).Msg("undecodable frame")
			r.reply(ctx, h, conn, EventError, ErrorPayload{Message: msgInvalidFormat})
		}
		return
	}
	r.Handle(ctx, h, env.Event, env.Data)
}

// Handle routes one inbound event. Every failure is answered with an
// error event to the originating connection; nothing is returned to or
// panics into the transport.
func (r *Router) Handle(ctx context.Context, h Handle, event string, data json.RawMessage) {
	l := logging.Ctx(ctx).With().Str(logging.FieldConnID, string(h)).Str(logging.FieldEvent, event).Logger()
	ctx = logging.WithLogger(ctx, l)

	conn, s, closing, ok := r.registry.lookup(h)
	if !ok || closing {
		l.Debug().Msg("event for unknown connection dropped")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			l.Error().Interface("panic", rec).Msg("event handler panicked")
			r.reply(ctx, h, conn, EventError, ErrorPayload{Message: msgInternal})
		}
	}()

	if s == nil {
		r.reply(ctx, h, conn, EventError, ErrorPayload{Message: msgUnauthorized})
		return
	}

	kind := ParseKind(event)
	if kind == KindUnknown {
		r.reply(ctx, h, conn, EventError, ErrorPayload{Message: "Unknown event: " + event})
		return
	}

	req, err := decodeRequest(kind, data)
	if err != nil {
		r.reply(ctx, h, conn, EventError, ErrorPayload{Message: "Invalid payload: " + err.Error()})
		return
	}

	l = l.With().Int64(logging.FieldUserID, int64(s.UserID())).Int64(logging.FieldRoomID, int64(req.roomID)).Logger()
	ctx = logging.WithLogger(ctx, l)

	r.handlers[kind](ctx, &call{handle: h, conn: conn, session: s, req: req})
}

func (r *Router) reply(ctx context.Context, h Handle, conn Conn, event string, payload any) {
	l := logging.Ctx(ctx)

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		l.Error().Err(err).Msg("reply encode failed")
		return
	}
	if err := conn.Send(frame); err != nil {
		l.Warn().Err(err).Str(logging.FieldConnID, string(h)).Str("reply", event).Msg("reply delivery failed")
	}
}

func (r *Router) replyError(ctx context.Context, c *call, msg string) {
	r.reply(ctx, c.handle, c.conn, EventError, ErrorPayload{Message: msg})
}

func (r *Router) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.CallTimeout)
}

func (r *Router) identity(c *call) UserRef {
	return UserRef{UserID: c.session.UserID(), Username: c.session.Username()}
}

// enter subscribes the caller to roomID. A room the caller was moved out
// of is told the caller left.
func (r *Router) enter(ctx context.Context, c *call, roomID RoomID) error {
	prev, moved, err := r.rooms.Join(c.handle, roomID)
	if err != nil {
		return err
	}
	if moved {
		r.rooms.Broadcast(ctx, prev, EventUserLeftRoom, r.identity(c))
		r.lifecycle.exited(ctx, prev, c.session)
	}
	r.lifecycle.entered(ctx, roomID, c.session)
	return nil
}

func (r *Router) joinRoom(ctx context.Context, c *call) {
	l := logging.Ctx(ctx)
	roomID := c.req.roomID

	cctx, cancel := r.callCtx(ctx)
	_, err := r.directory.FindRoom(cctx, roomID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.replyError(ctx, c, msgRoomNotFound)
			return
		}
		l.Error().Err(err).Msg("room lookup failed")
		r.replyError(ctx, c, msgJoinFailed)
		return
	}

	if err := r.enter(ctx, c, roomID); err != nil {
		l.Debug().Err(err).Msg("join abandoned")
		return
	}

	r.rooms.Broadcast(ctx, roomID, EventUserJoinedRoom, r.identity(c))

	if r.opts.RecordMembership {
		cctx, cancel := r.callCtx(ctx)
		if err := r.directory.AddMember(cctx, roomID, c.session.UserID()); err != nil {
			l.Warn().Err(err).Msg("failed to record room membership")
		}
		cancel()
	}

	r.reply(ctx, c.handle, c.conn, EventRoomJoined, RoomAck{RoomID: roomID, Message: msgJoined})
	l.Info().Msg("joined room")
}

func (r *Router) leaveRoom(ctx context.Context, c *call) {
	l := logging.Ctx(ctx)
	roomID := c.req.roomID

	if r.rooms.LeaveRoom(c.handle, roomID) {
		r.rooms.Broadcast(ctx, roomID, EventUserLeftRoom, r.identity(c))
		r.lifecycle.exited(ctx, roomID, c.session)
	}

	if r.opts.RecordMembership {
		cctx, cancel := r.callCtx(ctx)
		if err := r.directory.RemoveMember(cctx, roomID, c.session.UserID()); err != nil {
			l.Warn().Err(err).Msg("failed to remove room membership")
		}
		cancel()
	}

	r.reply(ctx, c.handle, c.conn, EventRoomLeft, RoomAck{RoomID: roomID, Message: msgLeft})
	l.Info().Msg("left room")
}

func (r *Router) sendMessage(ctx context.Context, c *call) {
	l := logging.Ctx(ctx)
	roomID := c.req.roomID

	if err := r.resolveSender(ctx, roomID, c.session.UserID()); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.replyError(ctx, c, msgRoomOrUserNotFound)
			return
		}
		l.Error().Err(err).Msg("sender lookup failed")
		r.replyError(ctx, c, msgSendFailed)
		return
	}

	if !r.rooms.Contains(c.handle, roomID) {
		if err := r.enter(ctx, c, roomID); err != nil {
			l.Debug().Err(err).Msg("send abandoned")
			return
		}
		l.Info().Msg("auto-joined room on send")
	}

	cctx, cancel := r.callCtx(ctx)
	msg, err := r.messages.Append(cctx, roomID, c.session.UserID(), c.req.content)
	cancel()
	if err != nil {
		l.Error().Err(err).Msg("message append failed")
		r.replyError(ctx, c, msgSendFailed)
		return
	}

	n := r.rooms.Broadcast(ctx, roomID, EventMessageReceived, msg)
	l.Info().Int64("message_id", msg.ID).Int("delivered", n).Msg("message sent")
}

// resolveSender checks the room and the sending user exist, looking both
// up concurrently.
func (r *Router) resolveSender(ctx context.Context, roomID RoomID, userID UserID) error {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		if _, err := r.directory.FindRoom(gctx, roomID); err != nil {
			return fmt.Errorf("find room %d: %w", roomID, err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := r.directory.FindUser(gctx, userID); err != nil {
			return fmt.Errorf("find user %d: %w", userID, err)
		}
		return nil
	})
	return g.Wait()
}

func (r *Router) typingStart(ctx context.Context, c *call) {
	r.rooms.Broadcast(ctx, c.req.roomID, EventUserTyping, r.identity(c))
}

func (r *Router) typingStop(ctx context.Context, c *call) {
	r.rooms.Broadcast(ctx, c.req.roomID, EventUserStoppedTyping, UserRef{UserID: c.session.UserID()})
}
