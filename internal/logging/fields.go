package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat
	FieldConnID   = "conn_id"
	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldRoomID   = "room_id"
	FieldEvent    = "event"

	FieldService = "service"
)
