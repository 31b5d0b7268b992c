package sellers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenSource resolves a seller's push device token.
type TokenSource interface {
	DeviceToken(ctx context.Context, sellerID string) (string, error)
}

// redisCmdable is the subset of *redis.Client the cache uses.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient connects and pings once.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// CachedTokenSource is a cache-aside layer over another TokenSource.
// Concurrent misses for one seller share a single lookup. Redis errors
// degrade to a direct lookup.
type CachedTokenSource struct {
	next   TokenSource
	rdb    redisCmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedTokenSource(next TokenSource, rdb redisCmdable, ttl time.Duration, logger *zap.Logger) *CachedTokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTokenSource{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func tokenKey(sellerID string) string {
	return "seller:device-token:" + sellerID
}

func (c *CachedTokenSource) cached(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return v, true
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("token cache read failed", zap.String("key", key), zap.Error(err))
	}
	return "", false
}

func (c *CachedTokenSource) DeviceToken(ctx context.Context, sellerID string) (string, error) {
	key := tokenKey(sellerID)
	if v, ok := c.cached(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.cached(ctx, key); ok {
			return v, nil
		}
		token, err := c.next.DeviceToken(ctx, sellerID)
		if err != nil {
			return "", err
		}
		if err := c.rdb.Set(ctx, key, token, c.ttl).Err(); err != nil {
			c.logger.Warn("token cache write failed", zap.String("seller_id", sellerID), zap.Error(err))
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next lookup reads the store.
func (c *CachedTokenSource) Invalidate(ctx context.Context, sellerID string) error {
	if err := c.rdb.Del(ctx, tokenKey(sellerID)).Err(); err != nil {
		return fmt.Errorf("invalidate token cache: %w", err)
	}
	return nil
}
