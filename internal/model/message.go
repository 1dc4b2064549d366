package model

import "time"

type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAdmin SenderRole = "admin"
)

func (r SenderRole) Valid() bool {
	return r == SenderUser || r == SenderAdmin
}

// Message is immutable once stored, except ReadAt which is set only on
// visitor (user) messages.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	Sender         SenderRole `json:"sender"`
	SenderID       *int64     `json:"sender_id"`
	Body           string     `json:"body"`
	AttachmentPath *string    `json:"attachment_path,omitempty"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
