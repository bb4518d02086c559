package server

import (
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// roomResponse is the body of GET /api/rooms/{id}.
type roomResponse struct {
	ID          chat.RoomID `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CreatedAt   string      `json:"createdAt"`
	MemberCount int         `json:"memberCount"`
	Online      int         `json:"online"`
}

func newRoomResponse(room chat.Room, online int) roomResponse {
	resp := roomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		MemberCount: room.MemberCount,
		Online:      online,
	}
	if !room.CreatedAt.IsZero() {
		resp.CreatedAt = room.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
