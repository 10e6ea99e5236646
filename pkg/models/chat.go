package models

import "time"

// ChatMessage is a persisted workspace chat message. Only ReadBy changes after creation.
type ChatMessage struct {
	ID          string    `json:"id" bson:"_id" db:"id"`
	WorkspaceID string    `json:"workspace_id" bson:"workspace_id" db:"workspace_id"`
	SenderID    string    `json:"sender_id" bson:"sender_id" db:"sender_id"`
	Message     string    `json:"message" bson:"message" db:"message"`
	ReadBy      []string  `json:"read_by" bson:"read_by" db:"read_by"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// HasReader reports whether userID acknowledged the message
func (m *ChatMessage) HasReader(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatMessageView is a message with the sender resolved for display
type ChatMessageView struct {
	ChatMessage
	Sender UserSummary `json:"sender"`
}

// ReadReceipt is broadcast to a room when a user acknowledges a message
type ReadReceipt struct {
	ChatID      string   `json:"chat_id"`
	WorkspaceID string   `json:"workspace_id"`
	UserID      string   `json:"user_id"`
	ReadBy      []string `json:"read_by"`
}
