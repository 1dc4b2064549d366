package storage

import (
	"context"
	"errors"
	"time"

	"github.com/grihya/livechat/internal/model"
)

// ErrNotFound is returned when a conversation token or id does not exist.
var ErrNotFound = errors.New("not found")

// ListFilter selects and pages the admin inbox.
// Status "" means any status; Search matches visitor name or token, case-insensitively.
type ListFilter struct {
	Status model.ConversationStatus
	Search string
	Limit  int
	Offset int
}

// Backlog aggregates visitor messages nobody has read yet in conversations
// that are not closed.
type Backlog struct {
	Conversations int
	Messages      int
}

// ConversationStore persists conversations.
// Implementations: repository.ConversationRepository, memory.Store.
type ConversationStore interface {
	// Create inserts c and fills in ID.
	Create(ctx context.Context, c *model.Conversation) error
	GetByToken(ctx context.Context, token string) (*model.Conversation, error)
	// List returns one page ordered by last activity desc, latest message desc, id desc,
	// and the total number of matching conversations.
	List(ctx context.Context, f ListFilter) ([]model.ConversationSummary, int, error)
	UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus, at time.Time) error
	UnreadBacklog(ctx context.Context) (Backlog, error)
}

// MessageStore persists the message ledger.
// Implementations: repository.MessageRepository, memory.Store.
type MessageStore interface {
	// Append inserts m, fills in ID and sets the parent's last_message_at
	// to m.CreatedAt atomically. Unknown conversation: ErrNotFound.
	Append(ctx context.Context, m *model.Message) error
	ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error)
	// MarkRead stamps unread visitor messages and returns how many changed.
	MarkRead(ctx context.Context, conversationID int64, at time.Time) (int64, error)
}

// PushSubscriptionStore keeps admin Web Push subscriptions.
// Implementations: redis.Client, memory.Subscriptions.
type PushSubscriptionStore interface {
	AddSubscription(ctx context.Context, adminID int64, sub model.PushSubscription) error
	RemoveSubscription(ctx context.Context, adminID int64, endpoint string) error
	// Subscriptions returns every admin's subscriptions keyed by admin id.
	Subscriptions(ctx context.Context) (map[int64][]model.PushSubscription, error)
}
