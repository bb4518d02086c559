package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

var errShuttingDown = errors.New("server shutting down")

// Hub owns the live WebSocket clients and their pump goroutines. Chat
// state lives in the core; the Hub only ties a socket's lifetime to its
// core registration.
type Hub struct {
	core *chat.Hub
	cfg  Config

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub over the chat core.
func NewHub(core *chat.Hub, cfg Config) *Hub {
	return &Hub{
		core:    core,
		cfg:     cfg,
		clients: make(map[*Client]struct{}),
	}
}

// Attach registers a freshly upgraded connection with the chat core,
// authenticating it with token, and starts its pumps. ctx must outlive
// the HTTP request; it carries the request's logger.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, token, addr string) (*Client, error) {
	client := NewClient(conn, h, addr, h.cfg)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, errShuttingDown
	}
	h.clients[client] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	handle, session := h.core.Connect(ctx, client, token)
	client.handle = handle

	l := logging.Ctx(ctx).With().Str(logging.FieldConnID, string(handle)).Str("remote_addr", addr).Logger()
	if session != nil {
		l = l.With().Int64(logging.FieldUserID, int64(session.UserID())).Logger()
	}
	client.log = l
	ctx = logging.WithLogger(ctx, l)

	l.Info().Bool("authenticated", session != nil).Int("clients", h.ClientCount()).Msg("client registered")

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump(ctx)
	}()
	return client, nil
}

// detach runs the core's disconnect cleanup for client and stops its
// write pump. It is called once, from the client's read pump.
func (h *Hub) detach(ctx context.Context, client *Client) {
	h.core.Disconnect(ctx, client.handle)
	client.close()

	h.mu.Lock()
	delete(h.clients, client)
	remaining := len(h.clients)
	h.mu.Unlock()

	client.log.Info().Int("clients", remaining).Msg("client unregistered")
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// shutdownClients closes every live socket, which makes each read pump
// exit and run its client's cleanup.
func (h *Hub) shutdownClients() int {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	l := logging.L()
	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			l.Warn().Err(err).Str("remote_addr", client.addr).Msg("error closing client connection")
		}
	}
	return len(clients)
}

// Shutdown closes every client and waits for their pumps and cleanup to
// finish, or for timeout. Sessions the pumps did not get to are then
// drained from the core directly.
func (h *Hub) Shutdown(timeout time.Duration) error {
	l := logging.L()
	l.Info().Msg("initiating hub shutdown")

	closed := h.shutdownClients()
	l.Info().Int("clients", closed).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	select {
	case <-done:
		l.Info().Msg("hub shutdown completed successfully")
	case <-ctx.Done():
		l.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		err = context.DeadlineExceeded
	}

	// Uses a fresh context so a timed-out wait still gets presence flipped.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), timeout)
	defer drainCancel()
	h.core.Shutdown(drainCtx)
	return err
}
