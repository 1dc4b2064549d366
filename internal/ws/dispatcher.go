package ws

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
)

// Broker moves encoded frames to every instance's subscribers of a channel.
// Implementations: *Hub (single instance), *RedisBroker.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte) error
}

// Dispatcher publishes message.sent events off the request path. Enqueue never
// blocks: when the queue is full the event is dropped and logged. Delivery is
// at most once and failures are never reported to the sender.
type Dispatcher struct {
	broker  Broker
	queue   chan OutgoingMessage
	workers int
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewDispatcher(broker Broker, queueSize, workers int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		broker:  broker,
		queue:   make(chan OutgoingMessage, queueSize),
		workers: workers,
		timeout: timeout,
	}
}

// PublishMessage queues the message.sent event for the conversation's channel.
func (d *Dispatcher) PublishMessage(conv *model.Conversation, m *model.Message) {
	d.Enqueue(NewMessageSent(conv.Token, m))
}

// Enqueue reports whether the event was queued.
func (d *Dispatcher) Enqueue(ev OutgoingMessage) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		n := d.dropped.Add(1)
		logger.Errorf("fanout queue full, dropped %s on %s (total dropped %d)", ev.Type, ev.Channel, n)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev OutgoingMessage) {
	defer logger.DeferLogDuration("fanout.deliver", time.Now())()
	data, err := Encode(ev)
	if err != nil {
		logger.Errorf("fanout encode %s: %v", ev.Channel, err)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.broker.Publish(pubCtx, ev.Channel, data); err != nil {
		d.failed.Add(1)
		logger.Errorf("fanout publish %s: %v", ev.Channel, err)
	}
}

// Stats returns how many events were dropped on a full queue and how many publishes failed.
func (d *Dispatcher) Stats() (dropped, failed int64) {
	return d.dropped.Load(), d.failed.Load()
}
