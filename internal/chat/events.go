package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the inbound events a session may send.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoinRoom
	KindLeaveRoom
	KindSendMessage
	KindTypingStart
	KindTypingStop

	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:     "unknown",
	KindJoinRoom:    "join_room",
	KindLeaveRoom:   "leave_room",
	KindSendMessage: "send_message",
	KindTypingStart: "typing_start",
	KindTypingStop:  "typing_stop",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind maps a wire event name to its Kind. Unrecognised names map to
// KindUnknown.
func ParseKind(name string) Kind {
	for k := KindJoinRoom; k < numKinds; k++ {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// Outbound event names.
const (
	EventError             = "error"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventUserJoinedRoom    = "user_joined_room"
	EventUserLeftRoom      = "user_left_room"
	EventMessageReceived   = "message_received"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
)

// User-visible error messages.
const (
	msgUnauthorized       = "Unauthorized"
	msgInvalidFormat      = "Invalid message format"
	msgRoomNotFound       = "Room not found"
	msgRoomOrUserNotFound = "Room or user not found"
	msgJoinFailed         = "Failed to join room"
	msgSendFailed         = "Failed to send message"
	msgInternal           = "Internal error"
	msgJoined             = "Joined room successfully"
	msgLeft               = "Left room successfully"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomAck is the body of room_joined and room_left.
type RoomAck struct {
	RoomID  RoomID `json:"roomId"`
	Message string `json:"message"`
}

// UserRef identifies the user a presence or typing event is about.
type UserRef struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username,omitempty"`
}

// EncodeFrame renders an outbound event as a wire frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope parses an inbound wire frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(env.Event) == "" {
		return Envelope{}, errors.New("missing event name")
	}
	return env, nil
}

var (
	errMissingData    = errors.New("data is required")
	errMissingRoomID  = errors.New("roomId is required")
	errInvalidRoomID  = errors.New("roomId must be a positive integer")
	errMissingContent = errors.New("content is required")
)

// request holds the validated fields of one inbound event.
type request struct {
	kind    Kind
	roomID  RoomID
	content string
}

func decodeRequest(kind Kind, data json.RawMessage) (request, error) {
	req := request{kind: kind}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return req, errMissingData
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return req, fmt.Errorf("data must be an object: %w", err)
	}

	id, err := parseRoomID(fields["roomId"])
	if err != nil {
		return req, err
	}
	req.roomID = id

	if kind == KindSendMessage {
		var content string
		raw, ok := fields["content"]
		if !ok || json.Unmarshal(raw, &content) != nil || strings.TrimSpace(content) == "" {
			return req, errMissingContent
		}
		req.content = content
	}

	return req, nil
}

// parseRoomID accepts a JSON integer or a decimal string.
func parseRoomID(raw json.RawMessage) (RoomID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errMissingRoomID
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, errInvalidRoomID
		}
		text = strings.TrimSpace(text)
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidRoomID
	}
	return RoomID(id), nil
}
