package ws

import (
	"time"

	"github.com/grihya/livechat/internal/model"
)

// ChannelPrefix namespaces conversation channels, locally and in Redis.
const ChannelPrefix = "chat.conversation."

// ChannelName returns the realtime channel of the conversation with the given token.
func ChannelName(token string) string {
	return ChannelPrefix + token
}

type EventType string

const (
	EventMessageSent  EventType = "message.sent"
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
	EventPong         EventType = "pong"
	EventError        EventType = "error"
)

type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionPing        Action = "ping"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Action Action `json:"action"`
	Token  string `json:"token,omitempty"`
}

// OutgoingMessage is every frame the server sends: {event, channel, payload}.
type OutgoingMessage struct {
	Type    EventType `json:"event"`
	Channel string    `json:"channel,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// MessagePayload is the body of a message.sent event.
type MessagePayload struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	Sender         model.SenderRole `json:"sender"`
	SenderID       *int64           `json:"sender_id"`
	Body           string           `json:"body"`
	CreatedAt      string           `json:"created_at"`
}

// NewMessageSent builds the event published after a message is stored.
func NewMessageSent(token string, m *model.Message) OutgoingMessage {
	return OutgoingMessage{
		Type:    EventMessageSent,
		Channel: ChannelName(token),
		Payload: MessagePayload{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         m.Sender,
			SenderID:       m.SenderID,
			Body:           m.Body,
			CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
