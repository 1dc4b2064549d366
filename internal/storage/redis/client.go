package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/model"
)

const (
	subsKeyPrefix   = "push:subs:"
	adminsKey       = "push:admins"
	maxSubsPerAdmin = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Conn exposes the underlying connection for pub/sub fan-out.
func (c *Client) Conn() *redis.Client { return c.cli }

func (c *Client) Close() error {
	return c.cli.Close()
}

func subsKey(adminID int64) string {
	return subsKeyPrefix + strconv.FormatInt(adminID, 10)
}

// AddSubscription appends sub to push:subs:<admin>, keeps the newest
// maxSubsPerAdmin entries and refreshes the 30-day TTL.
func (c *Client) AddSubscription(ctx context.Context, adminID int64, sub model.PushSubscription) error {
	if err := c.RemoveSubscription(ctx, adminID, sub.Endpoint); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis.AddSubscription encode: %w", err)
	}
	key := subsKey(adminID)
	pipe := c.cli.TxPipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerAdmin, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	pipe.SAdd(ctx, adminsKey, adminID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.AddSubscription: %w", err)
	}
	return nil
}

func (c *Client) RemoveSubscription(ctx context.Context, adminID int64, endpoint string) error {
	key := subsKey(adminID)
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis.RemoveSubscription: %w", err)
	}
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return fmt.Errorf("redis.RemoveSubscription: %w", err)
			}
		}
	}
	return nil
}

func (c *Client) Subscriptions(ctx context.Context) (map[int64][]model.PushSubscription, error) {
	ids, err := c.cli.SMembers(ctx, adminsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.Subscriptions: %w", err)
	}
	out := make(map[int64][]model.PushSubscription, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		list, err := c.cli.LRange(ctx, subsKey(id), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis.Subscriptions: %w", err)
		}
		if len(list) == 0 {
			// list expired: forget the admin
			if err := c.cli.SRem(ctx, adminsKey, raw).Err(); err != nil {
				logger.Errorf("redis.Subscriptions forget admin=%d: %v", id, err)
			}
			continue
		}
		for _, item := range list {
			var sub model.PushSubscription
			if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
				out[id] = append(out[id], sub)
			}
		}
	}
	return out, nil
}
