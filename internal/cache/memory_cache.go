package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	replay    *Replay
	expiresAt time.Time
}

// MemoryReplayCache keeps replays in process. It is the fallback when no
// Redis is configured, so retries are only deduplicated per instance.
type MemoryReplayCache struct {
	mu      sync.Mutex
	now     func() time.Time
	locks   map[string]time.Time
	entries map[string]memoryEntry
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{
		now:     time.Now,
		locks:   make(map[string]time.Time),
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryReplayCache) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.locks[key]; ok && now.Before(until) {
		return false, nil
	}
	c.locks[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryReplayCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.locks, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryReplayCache) Get(_ context.Context, key string) (*Replay, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.replay, true, nil
}

func (c *MemoryReplayCache) Set(_ context.Context, key string, value *Replay, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{replay: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
