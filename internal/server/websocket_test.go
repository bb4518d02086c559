package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func decode[T any](t *testing.T, env chat.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
	return v
}

// TestWebSocketUnauthenticated tests that a connection without a valid
// token stays open but every event is answered with Unauthorized.
func TestWebSocketUnauthenticated(t *testing.T) {
	stack := newTestStack(t, nil)
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	for _, token := range []string{"", "not-a-jwt"} {
		conn := dial(t, wsURL(ts.URL, token))
		emit(t, conn, "join_room", map[string]any{"roomId": stack.room.ID})

		env := expectEvent(t, conn, chat.EventError)
		if got := decode[chat.ErrorPayload](t, env); got.Message != "Unauthorized" {
			t.Errorf("token %q: error = %q, want Unauthorized", token, got.Message)
		}
	}
	if n := stack.srv.Hub().ClientCount(); n != 2 {
		t.Errorf("ClientCount() = %d, want 2", n)
	}
}

// TestWebSocketConversation tests two users joining a room and exchanging
// a message, and that the message is then visible in room history.
func TestWebSocketConversation(t *testing.T) {
	stack := newTestStack(t, nil)
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	alice := dial(t, wsURL(ts.URL, stack.token(t, stack.alice)))
	bob := dial(t, wsURL(ts.URL, stack.token(t, stack.bob)))

	emit(t, alice, "join_room", map[string]any{"roomId": stack.room.ID})
	ack := decode[chat.RoomAck](t, expectEvent(t, alice, chat.EventRoomJoined))
	if ack.RoomID != stack.room.ID {
		t.Errorf("room_joined roomId = %d, want %d", ack.RoomID, stack.room.ID)
	}

	emit(t, bob, "join_room", map[string]any{"roomId": stack.room.ID})
	expectEvent(t, bob, chat.EventRoomJoined)
	joined := decode[chat.UserRef](t, expectEvent(t, alice, chat.EventUserJoinedRoom))
	if joined.UserID != stack.bob.ID || joined.Username != "bob" {
		t.Errorf("user_joined_room = %+v, want bob", joined)
	}

	emit(t, bob, "send_message", map[string]any{"roomId": stack.room.ID, "content": "hello alice"})
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		msg := decode[chat.PersistedMessage](t, expectEvent(t, conn, chat.EventMessageReceived))
		if msg.Content != "hello alice" || msg.Username != "bob" || msg.ID == 0 {
			t.Errorf("%s received %+v", name, msg)
		}
	}

	emit(t, alice, "typing_start", map[string]any{"roomId": stack.room.ID})
	typing := decode[chat.UserRef](t, expectEvent(t, bob, chat.EventUserTyping))
	if typing.UserID != stack.alice.ID {
		t.Errorf("user_typing = %+v, want alice", typing)
	}

	history, err := stack.store.List(context.Background(), stack.room.ID, 0, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello alice" {
		t.Errorf("history = %+v", history)
	}

	if online := stack.srv.core.Rooms.MembersOf(stack.room.ID); online != 2 {
		t.Errorf("MembersOf() = %d, want 2", online)
	}
}

// TestWebSocketDisconnectNotifiesRoom tests that closing a socket runs the
// disconnect cleanup: the room is told and presence is cleared.
func TestWebSocketDisconnectNotifiesRoom(t *testing.T) {
	stack := newTestStack(t, nil)
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	alice := dial(t, wsURL(ts.URL, stack.token(t, stack.alice)))
	bob := dial(t, wsURL(ts.URL, stack.token(t, stack.bob)))

	emit(t, alice, "join_room", map[string]any{"roomId": stack.room.ID})
	expectEvent(t, alice, chat.EventRoomJoined)
	emit(t, bob, "join_room", map[string]any{"roomId": stack.room.ID})
	expectEvent(t, bob, chat.EventRoomJoined)

	waitFor(t, "bob online", func() bool {
		u, err := stack.store.FindUser(context.Background(), stack.bob.ID)
		return err == nil && u.Online
	})

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()

	left := decode[chat.UserRef](t, expectEvent(t, alice, chat.EventUserLeftRoom))
	if left.UserID != stack.bob.ID {
		t.Errorf("user_left_room = %+v, want bob", left)
	}
	waitFor(t, "bob offline", func() bool {
		u, err := stack.store.FindUser(context.Background(), stack.bob.ID)
		return err == nil && !u.Online
	})
	waitFor(t, "client count to drop", func() bool {
		return stack.srv.Hub().ClientCount() == 1
	})
}

// TestWebSocketOriginValidation tests the origin allow-list on upgrade.
func TestWebSocketOriginValidation(t *testing.T) {
	stack := newTestStack(t, nil)
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"allowed", testOrigin, false},
		{"allowed with different case", "HTTP://LOCALHOST:8080", false},
		{"disallowed", "http://evil.example", true},
		{"missing", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), newOriginHeader(tt.origin))
			if resp != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			if conn != nil {
				defer func() { _ = conn.Close() }()
			}

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected handshake to fail")
				}
				if resp == nil || resp.StatusCode != http.StatusForbidden {
					t.Errorf("expected 403 response, got %v", resp)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
		})
	}
}

// TestWebSocketMessageSizeLimit tests that an oversized frame closes the connection.
func TestWebSocketMessageSizeLimit(t *testing.T) {
	stack := newTestStack(t, func(cfg *Config) { cfg.MaxMessageSize = 256 })
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL, stack.token(t, stack.alice)))
	big := strings.Repeat("x", 1024)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	waitFor(t, "client removal", func() bool { return stack.srv.Hub().ClientCount() == 0 })
}

// TestWebSocketRateLimiting tests that frames beyond the burst are dropped.
func TestWebSocketRateLimiting(t *testing.T) {
	stack := newTestStack(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL, ""))
	for i := 0; i < 4; i++ {
		emit(t, conn, "join_room", map[string]any{"roomId": 1})
	}

	expectEvent(t, conn, chat.EventError)
	expectEvent(t, conn, chat.EventError)
	expectNoMessage(t, conn, 300*time.Millisecond)
}

// TestGracefulShutdownWithClients tests that shutdown closes every client
// and clears presence for authenticated users.
func TestGracefulShutdownWithClients(t *testing.T) {
	stack := newTestStack(t, nil)
	ts := httptest.NewServer(stack.srv.Routes())
	defer ts.Close()

	clients := []*websocket.Conn{
		dial(t, wsURL(ts.URL, stack.token(t, stack.alice))),
		dial(t, wsURL(ts.URL, stack.token(t, stack.bob))),
		dial(t, wsURL(ts.URL, "")),
	}
	waitFor(t, "clients to register", func() bool { return stack.srv.Hub().ClientCount() == len(clients) })

	done := make(chan error, 1)
	go func() { done <- stack.srv.Shutdown(ts.Config) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown timeout exceeded")
	}

	for i, conn := range clients {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("Client %d still connected after shutdown", i)
		}
	}
	if n := stack.srv.Hub().ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after shutdown, want 0", n)
	}
	for _, u := range []chat.User{stack.alice, stack.bob} {
		got, err := stack.store.FindUser(context.Background(), u.ID)
		if err != nil {
			t.Fatalf("FindUser() error = %v", err)
		}
		if got.Online {
			t.Errorf("%s still online after shutdown", u.Username)
		}
	}

	// New upgrades are refused once the hub is closing.
	if _, err := stack.srv.Hub().Attach(context.Background(), nil, "", "test"); err == nil {
		t.Error("Attach() after shutdown succeeded")
	}
}

// TestNoClientsShutdown tests shutting down an idle hub.
func TestNoClientsShutdown(t *testing.T) {
	stack := newTestStack(t, nil)
	if err := stack.srv.Hub().Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
