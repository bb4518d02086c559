package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is one WebSocket connection. It is the chat.Conn the core sends
// frames to; a read pump feeds inbound frames to the core and a write pump
// drains the outbound queue onto the socket.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	handle  chat.Handle
	addr    string
	cfg     Config
	limiter *rateLimiter
	log     zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ chat.Conn = (*Client)(nil)

// NewClient creates a Client for conn. The read limit is applied at once.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:    conn,
		hub:     hub,
		addr:    addr,
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log:     logging.L(),
		send:    make(chan []byte, cfg.SendBuffer),
	}
}

// Handle returns the connection's handle in the chat core.
func (c *Client) Handle() chat.Handle {
	return c.handle
}

// Send queues frame for the write pump without blocking. A full queue or
// a closed client is reported as an error and the frame is dropped.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// close stops the outbound queue. The write pump sends a close frame and
// exits once it has drained what was already queued.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.log.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
// Every read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("max_message_size", c.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		c.log.Warn().Err(err).Msg("WebSocket read error")
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.allow() {
		c.log.Warn().
			Int("burst", c.cfg.RateLimit.Burst).
			Dur("interval", c.cfg.RateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// readPump hands each inbound frame to the chat core. Frames from one
// connection are therefore handled strictly in order.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.detach(ctx, c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.core.Dispatch(ctx, c.handle, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, ignoring errors from a peer that is
// already gone.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes one envelope as its own WebSocket message.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// writeQueuedMessages flushes frames that queued up while the last one was
// being written. Each stays a separate WebSocket message since clients
// parse one JSON envelope per message.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error writing ping message")
		}
		return false
	}
	return true
}
