// Package cache provides a Redis-backed, TTL-bounded cache with
// cross-replica invalidation broadcast over Redis pub/sub (§4.3
// "Consistency": "Writers emit an invalidation message on a broadcast
// channel; all replicas subscribing to the channel drop affected entries").
// It backs both the group-manifest cache and the agent-access cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bvandewe/agent-gateway/internal/telemetry"
)

// Cache is a namespaced, TTL-bounded key/value cache. Values are JSON.
// Readers that observe a cache miss or TTL expiry recompute from aggregates
// (§4.3 "Consistency"); Cache itself never falls back to a loader — callers
// own that.
type Cache struct {
	client  *redis.Client
	logger  telemetry.Logger
	ns      string
	channel string

	mu    sync.RWMutex
	stopC chan struct{}
}

// New constructs a Cache namespaced by ns, using channel for cross-replica
// invalidation pub/sub. Call Subscribe to start listening for invalidations
// from other replicas.
func New(client *redis.Client, ns, channel string, logger telemetry.Logger) *Cache {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Cache{client: client, logger: logger, ns: ns, channel: channel}
}

func (c *Cache) key(k string) string { return c.ns + ":" + k }

// Get fetches and decodes the value stored at key, reporting (false, nil)
// on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value at key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Invalidate removes key locally and broadcasts the invalidation to other
// replicas subscribed to the same channel.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	if err := c.client.Publish(ctx, c.channel, key).Err(); err != nil {
		return fmt.Errorf("cache: publish invalidation %q: %w", key, err)
	}
	return nil
}

// InvalidateAll drops every entry in this cache's namespace and broadcasts a
// global invalidation (§4.3: "invalidated globally on policy change").
func (c *Cache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.ns+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: delete %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan namespace %q: %w", c.ns, err)
	}
	if err := c.client.Publish(ctx, c.channel, "*").Err(); err != nil {
		return fmt.Errorf("cache: publish global invalidation: %w", err)
	}
	return nil
}

// Subscribe starts listening for invalidation broadcasts from other
// replicas and deletes the corresponding local keys. Call Close (via the
// returned stop function) to unsubscribe. Safe to call at most once per
// Cache instance.
func (c *Cache) Subscribe(ctx context.Context) (stop func(), err error) {
	sub := c.client.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("cache: subscribe %q: %w", c.channel, err)
	}
	ch := sub.Channel()
	c.mu.Lock()
	c.stopC = make(chan struct{})
	stopC := c.stopC
	c.mu.Unlock()

	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == "*" {
					continue // global invalidation already applied by the publisher's own Del calls
				}
				if err := c.client.Del(ctx, c.key(msg.Payload)).Err(); err != nil {
					c.logger.Warn(ctx, "cache invalidation delete failed", "channel", c.channel, "key", msg.Payload, "error", err.Error())
				}
			case <-stopC:
				_ = sub.Close()
				return
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}()

	return func() { close(stopC) }, nil
}
