package model

import "time"

type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusAssigned ConversationStatus = "assigned"
	StatusClosed   ConversationStatus = "closed"
)

// Valid reports whether s is one of open, assigned, closed.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusClosed:
		return true
	}
	return false
}

// Conversation is one visitor's support thread. Token is the public
// capability used to address it and never changes after creation.
type Conversation struct {
	ID            int64              `json:"id"`
	Token         string             `json:"token"`
	VisitorID     *int64             `json:"visitor_id"`
	VisitorName   string             `json:"visitor_name,omitempty"`
	VisitorEmail  string             `json:"visitor_email,omitempty"`
	VisitorPhone  string             `json:"visitor_phone,omitempty"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt *time.Time         `json:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ConversationSummary is a row of the admin inbox.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unread_count"`
	// LastActivityAt is the later of LastMessageAt and the newest message's CreatedAt.
	LastActivityAt *time.Time `json:"last_activity_at"`
	// LatestMessageAt is the newest message's CreatedAt, nil without messages.
	LatestMessageAt *time.Time `json:"-"`
}

type ConversationPage struct {
	Data    []ConversationSummary `json:"data"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
	Total   int                   `json:"total"`
}
