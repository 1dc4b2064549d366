package ws

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/grihya/livechat/internal/logger"
)

// RedisBroker fans events out across API instances: Publish issues PUBLISH,
// Run relays every chat.conversation.* message into the local hub.
type RedisBroker struct {
	cli *redis.Client
	hub *Hub
}

func NewRedisBroker(cli *redis.Client, hub *Hub) *RedisBroker {
	return &RedisBroker{cli: cli, hub: hub}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.cli.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the subscription breaks.
func (b *RedisBroker) Run(ctx context.Context) error {
	ps := b.cli.PSubscribe(ctx, ChannelPrefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	logger.Infof("fanout: relaying %s* from redis", ChannelPrefix)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			b.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
