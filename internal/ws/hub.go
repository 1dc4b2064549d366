package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

// ConversationLookup resolves the token a client subscribes with.
type ConversationLookup interface {
	GetByToken(ctx context.Context, token string) (*model.Conversation, error)
}

// Hub tracks connected clients and the single conversation channel each one
// listens to. It is also the local Broker: Publish delivers straight to subscribers.
// Register and Unregister take effect before they return.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
	closed   bool
	maxConns int
	lookup   ConversationLookup
	done     chan struct{}
}

func NewHub(lookup ConversationLookup, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		maxConns: maxConns,
		lookup:   lookup,
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every client and waits for
// their pumps to exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	<-ctx.Done()
	h.shutdown()
}

func (h *Hub) shutdown() {
	// Collect under the lock, close outside it: closing pumps call Unregister.
	h.mu.Lock()
	h.closed = true
	all := make(map[*Client]struct{}, len(h.clients))
	for c := range h.clients {
		all[c] = struct{}{}
	}
	for _, subs := range h.channels {
		for c := range subs {
			all[c] = struct{}{}
		}
	}
	h.clients = make(map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for c := range all {
		c.Close()
	}
	for c := range all {
		c.Wait()
	}
	logger.Infof("ws hub stopped, closed %d clients", len(all))
}

// Done is closed once Run has shut every client down.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	select {
	case <-c.done:
		// already unregistered
		h.mu.Unlock()
		return
	default:
	}
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting %s", h.maxConns, c.remote)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.detach(c)
	h.mu.Unlock()

	c.Close()
}

// detach removes c from its channel. Caller holds h.mu.
func (h *Hub) detach(c *Client) {
	if c.channel == "" {
		return
	}
	if subs, ok := h.channels[c.channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, c.channel)
		}
	}
	c.channel = ""
}

// HandleMessage dispatches one client frame.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Action {
	case ActionSubscribe:
		h.subscribe(ctx, c, msg.Token)
	case ActionUnsubscribe:
		h.mu.Lock()
		h.detach(c)
		h.mu.Unlock()
		h.send(c, OutgoingMessage{Type: EventUnsubscribed})
	case ActionPing:
		h.send(c, OutgoingMessage{Type: EventPong})
	default:
		h.send(c, OutgoingMessage{Type: EventError, Payload: "unknown action"})
	}
}

// subscribe moves c to the token's channel, leaving its previous channel first.
func (h *Hub) subscribe(ctx context.Context, c *Client, token string) {
	if token == "" {
		h.send(c, OutgoingMessage{Type: EventError, Payload: "token required"})
		return
	}
	if h.lookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := h.lookup.GetByToken(lookupCtx, token)
		cancel()
		if errors.Is(err, storage.ErrNotFound) {
			h.send(c, OutgoingMessage{Type: EventError, Payload: "conversation not found"})
			return
		}
		if err != nil {
			logger.Errorf("ws subscribe lookup %s: %v", c.remote, err)
			h.send(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
			return
		}
	}

	channel := ChannelName(token)
	h.mu.Lock()
	h.detach(c)
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.channel = channel
	h.mu.Unlock()

	h.send(c, OutgoingMessage{Type: EventSubscribed, Channel: channel})
}

// Broadcast delivers pre-encoded data to every subscriber of channel and
// returns how many clients it was queued for.
func (h *Hub) Broadcast(channel string, data []byte) int {
	h.mu.RLock()
	subs := h.channels[channel]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, data)
	}
	return len(targets)
}

// Publish implements Broker for single-instance deployments.
func (h *Hub) Publish(_ context.Context, channel string, data []byte) error {
	h.Broadcast(channel, data)
	return nil
}

// Stats returns connected clients and channels with at least one subscriber.
func (h *Hub) Stats() (clients, channels int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.channels)
}

// bufPool pools buffers for frame encoding.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encode renders a frame as a WebSocket text payload.
func Encode(msg OutgoingMessage) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	// json.Encoder appends '\n'
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (h *Hub) send(c *Client, msg OutgoingMessage) {
	data, err := Encode(msg)
	if err != nil {
		logger.Errorf("ws marshal error %s: %v", c.remote, err)
		return
	}
	h.sendToClient(c, data)
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client %s", c.remote)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	h.addClient(c)
}

// Unregister detaches c and closes it. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.removeClient(c)
}
