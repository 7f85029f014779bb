package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "directory:version"
	// DefaultChangeChannel is where registry owners announce renamed or
	// removed entities.
	DefaultChangeChannel = "directory:changed"
)

// Cache stores names in Redis under a global version so a Bump invalidates
// every entry at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func key(entity Entity, ver int64, id string) string {
	return fmt.Sprintf("directory:%s:%d:%s", entity, ver, id)
}

// Get returns cached names and the ids not present in the cache. An id cached
// as unknown is returned in neither.
func (c *Cache) Get(ctx context.Context, entity Entity, ids []string) (map[string]string, []string, error) {
	if !c.enabled() || len(ids) == 0 {
		return map[string]string{}, ids, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(entity, ver, id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	hits := make(map[string]string, len(ids))
	var misses []string
	for i, v := range vals {
		name, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		if name != "" {
			hits[ids[i]] = name
		}
	}
	return hits, misses, nil
}

// Put caches names for ids. Ids absent from names are cached as unknown.
func (c *Cache) Put(ctx context.Context, entity Entity, ids []string, names map[string]string) error {
	if !c.enabled() || len(ids) == 0 {
		return nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return err
	}
	_, err = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Set(ctx, key(entity, ver, id), names[id], c.ttl)
		}
		return nil
	})
	return err
}

// Bump invalidates every cached name.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// ListenForChanges bumps the cache version for every message published on
// channel until ctx is done. It returns once the subscription is confirmed.
func (c *Cache) ListenForChanges(ctx context.Context, channel string, logger *slog.Logger) error {
	if !c.enabled() {
		return nil
	}
	if channel == "" {
		channel = DefaultChangeChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("directory: subscribe %s: %w", channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := c.Bump(ctx); err != nil {
					logger.Warn("directory cache bump failed", slog.String("channel", msg.Channel), slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}
