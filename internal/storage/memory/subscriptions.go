package memory

import (
	"context"
	"sync"

	"github.com/grihya/livechat/internal/model"
)

// maxSubsPerAdmin matches the Redis store's list trim.
const maxSubsPerAdmin = 10

// Subscriptions keeps admin Web Push subscriptions in process memory.
type Subscriptions struct {
	mu   sync.RWMutex
	subs map[int64][]model.PushSubscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[int64][]model.PushSubscription)}
}

func (s *Subscriptions) AddSubscription(ctx context.Context, adminID int64, sub model.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[adminID][:0:0]
	for _, existing := range s.subs[adminID] {
		if existing.Endpoint != sub.Endpoint {
			list = append(list, existing)
		}
	}
	list = append(list, sub)
	if len(list) > maxSubsPerAdmin {
		list = list[len(list)-maxSubsPerAdmin:]
	}
	s.subs[adminID] = list
	return nil
}

func (s *Subscriptions) RemoveSubscription(ctx context.Context, adminID int64, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[adminID][:0:0]
	for _, existing := range s.subs[adminID] {
		if existing.Endpoint != endpoint {
			list = append(list, existing)
		}
	}
	if len(list) == 0 {
		delete(s.subs, adminID)
		return nil
	}
	s.subs[adminID] = list
	return nil
}

func (s *Subscriptions) Subscriptions(ctx context.Context) (map[int64][]model.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64][]model.PushSubscription, len(s.subs))
	for id, list := range s.subs {
		out[id] = append([]model.PushSubscription(nil), list...)
	}
	return out, nil
}
