package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Publisher delivers message.sent events to realtime subscribers.
// PublishMessage must not block and must not fail the caller.
type Publisher interface {
	PublishMessage(conv *model.Conversation, m *model.Message)
}

// AdminNotifier alerts admins about new visitor messages. Same contract as Publisher.
type AdminNotifier interface {
	NotifyVisitorMessage(conv *model.Conversation, m *model.Message)
}

type nopPublisher struct{}

func (nopPublisher) PublishMessage(*model.Conversation, *model.Message) {}

type nopNotifier struct{}

func (nopNotifier) NotifyVisitorMessage(*model.Conversation, *model.Message) {}

// Visitor is the optional identity captured when a chat is started.
type Visitor struct {
	ID    *int64
	Name  string
	Email string
	Phone string
}

// SendInput is one message to append. Sender is decided by the caller's identity.
type SendInput struct {
	Sender         model.SenderRole
	SenderID       *int64
	Body           string
	AttachmentPath *string
}

type ListQuery struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

type ChatService struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	publisher     Publisher
	notifier      AdminNotifier
	now           func() time.Time
}

type Option func(*ChatService)

func WithPublisher(p Publisher) Option {
	return func(s *ChatService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithAdminNotifier(n AdminNotifier) Option {
	return func(s *ChatService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

func NewChatService(conversations storage.ConversationStore, messages storage.MessageStore, opts ...Option) *ChatService {
	s := &ChatService{
		conversations: conversations,
		messages:      messages,
		publisher:     nopPublisher{},
		notifier:      nopNotifier{},
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens a new conversation in status open with a fresh token.
func (s *ChatService) Start(ctx context.Context, v Visitor) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.Start", time.Now())()
	now := s.now().UTC()
	c := &model.Conversation{
		Token:        uuid.New().String(),
		VisitorID:    v.ID,
		VisitorName:  strings.TrimSpace(v.Name),
		VisitorEmail: strings.TrimSpace(v.Email),
		VisitorPhone: strings.TrimSpace(v.Phone),
		Status:       model.StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("chat.Start: %w", err)
	}
	logger.Infof("chat: conversation %d started", c.ID)
	return c, nil
}

// FindByToken resolves an exact, case-sensitive token.
func (s *ChatService) FindByToken(ctx context.Context, token string) (*model.Conversation, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	c, err := s.conversations.GetByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat.FindByToken: %w", err)
	}
	return c, nil
}

// ListConversations returns one page of the admin inbox with unread counts.
func (s *ChatService) ListConversations(ctx context.Context, q ListQuery) (*model.ConversationPage, error) {
	defer logger.DeferLogDuration("chat.ListConversations", time.Now())()
	status := model.ConversationStatus(strings.TrimSpace(q.Status))
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be one of open, assigned, closed"}
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	// Pages past math.MaxInt rows cannot hold anything; keep the offset from wrapping.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/perPage {
		offset = (page - 1) * perPage
	}

	items, total, err := s.conversations.List(ctx, storage.ListFilter{
		Status: status,
		Search: strings.TrimSpace(q.Search),
		Limit:  perPage,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("chat.ListConversations: %w", err)
	}
	if items == nil {
		items = []model.ConversationSummary{}
	}
	return &model.ConversationPage{Data: items, Page: page, PerPage: perPage, Total: total}, nil
}

// UpdateStatus sets any of the three statuses unconditionally.
func (s *ChatService) UpdateStatus(ctx context.Context, token, status string) (*model.Conversation, error) {
	st := model.ConversationStatus(strings.TrimSpace(status))
	if !st.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be one of open, assigned, closed"}
	}
	c, err := s.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.conversations.UpdateStatus(ctx, c.ID, st, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chat.UpdateStatus: %w", err)
	}
	c.Status = st
	c.UpdatedAt = now
	logger.Infof("chat: conversation %d status=%s", c.ID, st)
	return c, nil
}

// Append stores the body exactly as sent once the token resolves and the
// input is valid. It then hands the message to the publisher and, for
// visitor messages, to the admin notifier. Neither can fail the append.
func (s *ChatService) Append(ctx context.Context, token string, in SendInput) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.Append", time.Now())()
	c, err := s.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !in.Sender.Valid() {
		return nil, &ValidationError{Field: "sender", Message: "must be user or admin"}
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, &ValidationError{Field: "body", Message: "must not be empty"}
	}

	m := &model.Message{
		ConversationID: c.ID,
		Sender:         in.Sender,
		SenderID:       in.SenderID,
		Body:           in.Body,
		AttachmentPath: in.AttachmentPath,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.messages.Append(ctx, m); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chat.Append: %w", err)
	}
	c.LastMessageAt = &m.CreatedAt

	s.publisher.PublishMessage(c, m)
	if m.Sender == model.SenderUser {
		s.notifier.NotifyVisitorMessage(c, m)
	}
	return m, nil
}

// ListMessages returns the whole conversation in ascending id order.
func (s *ChatService) ListMessages(ctx context.Context, token string) ([]model.Message, error) {
	c, err := s.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("chat.ListMessages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// MarkRead stamps every unread visitor message and returns how many changed.
func (s *ChatService) MarkRead(ctx context.Context, token string) (int64, error) {
	c, err := s.FindByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, c.ID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("chat.MarkRead: %w", err)
	}
	return n, nil
}
