package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// tokenFromRequest returns the connect-time credential from the token
// query parameter or an Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// WebSocketHandler upgrades the request and attaches the connection to the
// chat core. A missing or rejected token still yields an open, but
// unauthenticated, connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	l := logging.Ctx(r.Context())
	token := tokenFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// The connection outlives the request; keep its logger, drop its deadline.
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.hub.Attach(ctx, conn, token, logging.ClientIP(r)); err != nil {
		l.Info().Err(err).Msg("rejecting WebSocket connection")
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "RoomChat server is running!")
}

// HealthzHandler reports liveness and the number of open connections.
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Connections: s.hub.ClientCount()})
}

// RoomHandler serves GET /api/rooms/{id}.
func (s *Server) RoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := parseRoomID(w, r)
	if !ok {
		return
	}

	room, ok := s.findRoom(w, r, roomID)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, newRoomResponse(room, s.core.Rooms.MembersOf(roomID)))
}

// RoomMessagesHandler serves GET /api/rooms/{id}/messages, newest first.
func (s *Server) RoomMessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := parseRoomID(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid page"})
		return
	}
	size, err := queryInt(r, "size", chat.DefaultPageSize)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid size"})
		return
	}
	page, size = chat.ClampPage(page, size)

	if _, ok := s.findRoom(w, r, roomID); !ok {
		return
	}

	messages, err := s.messages.List(r.Context(), roomID, page, size)
	if err != nil {
		l := logging.Ctx(r.Context())
		l.Error().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("failed to list messages")
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to list messages"})
		return
	}
	if messages == nil {
		messages = []chat.PersistedMessage{}
	}
	writeJSON(w, r, http.StatusOK, messages)
}

func (s *Server) findRoom(w http.ResponseWriter, r *http.Request, roomID chat.RoomID) (chat.Room, bool) {
	room, err := s.directory.FindRoom(r.Context(), roomID)
	if err == nil {
		return room, true
	}
	if errors.Is(err, chat.ErrNotFound) {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "room not found"})
		return chat.Room{}, false
	}

	l := logging.Ctx(r.Context())
	l.Error().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("failed to get room")
	writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to get room"})
	return chat.Room{}, false
}

func parseRoomID(w http.ResponseWriter, r *http.Request) (chat.RoomID, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid room id"})
		return 0, false
	}
	return chat.RoomID(id), true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		l := logging.Ctx(r.Context())
		l.Warn().Err(err).Msg("error writing JSON response")
	}
}

// TestPageHandler serves a small page for trying the WebSocket protocol
// from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		l := logging.Ctx(r.Context())
		l.Warn().Err(err).Msg("error writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input { padding: 5px; margin-right: 6px; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomChat WebSocket Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="JWT token" size="40">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div>
        <input type="number" id="room" placeholder="Room id" value="1">
        <button onclick="emit('join_room', {roomId: room()})">Join</button>
        <button onclick="emit('leave_room', {roomId: room()})">Leave</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Type a message..." size="40">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const contentInput = document.getElementById('content');

        function room() { return Number(document.getElementById('room').value); }

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(document.getElementById('token').value);
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);
            ws.onopen = () => { log('connected'); updateStatus(true); };
            ws.onmessage = (event) => log('<- ' + event.data);
            ws.onclose = () => { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => log('connection error');
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) { log('not connected'); return; }
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            log('-> ' + frame);
        }

        function sendMessage() {
            const content = contentInput.value.trim();
            if (content) {
                emit('send_message', {roomId: room(), content: content});
                contentInput.value = '';
            }
        }

        contentInput.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
        contentInput.addEventListener('input', () => {
            if (ws && ws.readyState === WebSocket.OPEN) emit('typing_start', {roomId: room()});
        });
        contentInput.addEventListener('blur', () => {
            if (ws && ws.readyState === WebSocket.OPEN) emit('typing_stop', {roomId: room()});
        });
    </script>
</body>
</html>`
