package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rumbify-server/models"
)

// PreviewCache holds preview codes between generation and redemption. A miss
// is not an error: preview codes expire or may have been redeemed already.
type PreviewCache interface {
	Get(ctx context.Context, code string) (*models.PreviewEntry, bool, error)
	Put(ctx context.Context, code string, entry *models.PreviewEntry, ttl time.Duration) error
	Delete(ctx context.Context, code string) error
}

// MemoryPreviewCache is the in-process backend, used when no Redis URL is
// configured. Expired entries are dropped lazily on read.
type MemoryPreviewCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry     models.PreviewEntry
	expiresAt time.Time
}

func NewMemoryPreviewCache() *MemoryPreviewCache {
	return &MemoryPreviewCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryPreviewCache) Get(_ context.Context, code string) (*models.PreviewEntry, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[code]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, code)
		c.mu.Unlock()
		return nil, false, nil
	}
	entry := e.entry
	return &entry, true, nil
}

func (c *MemoryPreviewCache) Put(_ context.Context, code string, entry *models.PreviewEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = memoryEntry{entry: *entry, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryPreviewCache) Delete(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	return nil
}

// Len reports the live entry count, for the cache gauge.
func (c *MemoryPreviewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

const previewKeyPrefix = "preview:"

// RedisPreviewCache is the shared backend for multi-process deployments.
// Redis owns expiry via SETEX, so a TTL sweep is unnecessary.
type RedisPreviewCache struct {
	client *redis.Client
}

func NewRedisPreviewCache(client *redis.Client) *RedisPreviewCache {
	return &RedisPreviewCache{client: client}
}

func (c *RedisPreviewCache) Get(ctx context.Context, code string) (*models.PreviewEntry, bool, error) {
	raw, err := c.client.Get(ctx, previewKeyPrefix+code).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("preview cache get: %w", err)
	}

	var entry models.PreviewEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, fmt.Errorf("preview cache decode: %w", err)
	}
	return &entry, true, nil
}

func (c *RedisPreviewCache) Put(ctx context.Context, code string, entry *models.PreviewEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("preview cache encode: %w", err)
	}
	if err := c.client.SetEx(ctx, previewKeyPrefix+code, raw, ttl).Err(); err != nil {
		return fmt.Errorf("preview cache put: %w", err)
	}
	return nil
}

func (c *RedisPreviewCache) Delete(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, previewKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("preview cache delete: %w", err)
	}
	return nil
}
