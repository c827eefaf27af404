// Package redis provides a Redis-backed UserCache for usagemeter.
//
// User records are stored as JSON under a per-user key with a TTL. The cache
// is best-effort: a failed refresh never fails the consumption that
// triggered it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kriralabs/usagemeter"
)

// Cache is a Redis-backed usagemeter.UserCache.
type Cache struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

var _ usagemeter.UserCache = (*Cache)(nil)

// Option configures Cache.
type Option func(*Cache)

// WithKeyPrefix sets the Redis key prefix (default "usagemeter:user:").
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) { c.keyPrefix = prefix }
}

// WithTTL sets the entry TTL (default 15 minutes, 0 disables expiry).
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// New creates a new Redis-backed UserCache.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Cache {
	c := &Cache{
		client:    client,
		keyPrefix: "usagemeter:user:",
		ttl:       15 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) userKey(userID string) string {
	return c.keyPrefix + userID
}

// CacheUser stores the serialized user record under its id.
func (c *Cache) CacheUser(ctx context.Context, user *usagemeter.UserAccount) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("usagemeter/redis: marshal user: %w", err)
	}
	if err := c.client.Set(ctx, c.userKey(user.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("usagemeter/redis: cache user: %w", err)
	}
	return nil
}

// CachedUser returns the cached record for a user id, or nil when absent.
func (c *Cache) CachedUser(ctx context.Context, userID string) (*usagemeter.UserAccount, error) {
	payload, err := c.client.Get(ctx, c.userKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("usagemeter/redis: get user: %w", err)
	}

	var user usagemeter.UserAccount
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("usagemeter/redis: unmarshal user: %w", err)
	}
	return &user, nil
}
