// Package memory is an in-process implementation of the storage contracts,
// used for -dev runs without Postgres and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

type Store struct {
	mu            sync.RWMutex
	nextConvID    int64
	nextMsgID     int64
	conversations map[int64]*model.Conversation
	byToken       map[string]int64
	messages      map[int64][]model.Message
}

func New() *Store {
	return &Store{
		conversations: make(map[int64]*model.Conversation),
		byToken:       make(map[string]int64),
		messages:      make(map[int64][]model.Message),
	}
}

func (s *Store) Create(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byToken[c.Token]; dup {
		return fmt.Errorf("memory.Create: duplicate token")
	}
	s.nextConvID++
	c.ID = s.nextConvID
	cp := *c
	s.conversations[c.ID] = &cp
	s.byToken[c.Token] = c.ID
	return nil
}

func (s *Store) GetByToken(ctx context.Context, token string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.conversations[id]
	return &cp, nil
}

func (s *Store) List(ctx context.Context, f storage.ListFilter) ([]model.ConversationSummary, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	all := make([]model.ConversationSummary, 0, len(s.conversations))
	for id, c := range s.conversations {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.VisitorName), search) &&
			!strings.Contains(strings.ToLower(c.Token), search) {
			continue
		}
		sum := model.ConversationSummary{Conversation: *c}
		for i := range s.messages[id] {
			m := &s.messages[id][i]
			if m.Sender == model.SenderUser && m.ReadAt == nil {
				sum.UnreadCount++
			}
			if sum.LatestMessageAt == nil || m.CreatedAt.After(*sum.LatestMessageAt) {
				t := m.CreatedAt
				sum.LatestMessageAt = &t
			}
		}
		sum.LastActivityAt = laterOf(c.LastMessageAt, sum.LatestMessageAt)
		all = append(all, sum)
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if c := compareDesc(a.LastActivityAt, b.LastActivityAt); c != 0 {
			return c < 0
		}
		if c := compareDesc(a.LatestMessageAt, b.LatestMessageAt); c != 0 {
			return c < 0
		}
		return a.ID > b.ID
	})

	total := len(all)
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Offset >= total {
		return []model.ConversationSummary{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

// compareDesc orders newer first and nil last, like DESC NULLS LAST.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return 0
}

func laterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (s *Store) UnreadBacklog(ctx context.Context) (storage.Backlog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b storage.Backlog
	for id, c := range s.conversations {
		if c.Status == model.StatusClosed {
			continue
		}
		n := 0
		for _, m := range s.messages[id] {
			if m.Sender == model.SenderUser && m.ReadAt == nil {
				n++
			}
		}
		if n > 0 {
			b.Conversations++
			b.Messages += n
		}
	}
	return b, nil
}

func (s *Store) Append(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return storage.ErrNotFound
	}
	s.nextMsgID++
	m.ID = s.nextMsgID
	s.messages[c.ID] = append(s.messages[c.ID], *m)
	at := m.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *Store) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].Sender == model.SenderUser && msgs[i].ReadAt == nil {
			t := at
			msgs[i].ReadAt = &t
			n++
		}
	}
	return n, nil
}
