package chat

import "team-collab-backend/pkg/models"

type EventType string

// Outbound event types
const (
	EventJoined      EventType = "joined"
	EventLeft        EventType = "left"
	EventMessage     EventType = "message"
	EventReadReceipt EventType = "read_receipt"
	EventError       EventType = "error"
)

// Event is one outbound frame
type Event struct {
	Type        EventType               `json:"type"`
	WorkspaceID string                  `json:"workspace_id,omitempty"`
	RequestID   string                  `json:"request_id,omitempty"`
	Message     *models.ChatMessageView `json:"message,omitempty"`
	Receipt     *models.ReadReceipt     `json:"receipt,omitempty"`
	Error       *ErrorPayload           `json:"error,omitempty"`
}

// ErrorPayload describes a failed command
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command types accepted from a connection
const (
	CommandJoin  = "join"
	CommandLeave = "leave"
	CommandSend  = "send"
	CommandRead  = "read"
)

// Command is one inbound frame
type Command struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
	Message     string `json:"message"`
	ChatID      string `json:"chat_id"`
	RequestID   string `json:"request_id"`
}
