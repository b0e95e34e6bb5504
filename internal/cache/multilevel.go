package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// CacheStats counts lookups across both levels.
type CacheStats struct {
	L1Hits  int64 `json:"l1_hits"`
	L2Hits  int64 `json:"l2_hits"`
	Misses  int64 `json:"misses"`
	Errors  int64 `json:"errors"`
	Entries int   `json:"l1_entries"`
}

// MultiLevelCache keeps a short-lived in-process copy (L1) in front of
// Redis (L2). A Redis failure degrades to L1 only; it is counted, not
// returned, from Get.
type MultiLevelCache struct {
	mu    sync.RWMutex
	l1    map[string]memoryEntry
	l1TTL time.Duration
	l2    *RedisCache
	now   func() time.Time

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewMultiLevelCache caps L1 entries at l1TTL; l2 may be nil.
func NewMultiLevelCache(l2 *RedisCache, l1TTL time.Duration) *MultiLevelCache {
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}
	return &MultiLevelCache{
		l1:    make(map[string]memoryEntry),
		l1TTL: l1TTL,
		l2:    l2,
		now:   time.Now,
	}
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	c.setL1(key, data, ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, json.RawMessage(data), ttl); err != nil {
			c.errs.Add(1)
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := c.getL1(key); ok {
		c.l1Hits.Add(1)
		return json.Unmarshal(data, dest)
	}

	if c.l2 != nil {
		var raw json.RawMessage
		err := c.l2.Get(ctx, key, &raw)
		switch {
		case err == nil:
			c.l2Hits.Add(1)
			c.setL1(key, raw, c.l1TTL)
			return json.Unmarshal(raw, dest)
		case !errors.Is(err, ErrCacheMiss):
			c.errs.Add(1)
		}
	}

	c.misses.Add(1)
	return ErrCacheMiss
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.l1, key)
	c.mu.Unlock()

	if c.l2 != nil {
		return c.l2.Delete(ctx, key)
	}
	return nil
}

func (c *MultiLevelCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.l1)
	c.mu.RUnlock()

	return CacheStats{
		L1Hits:  c.l1Hits.Load(),
		L2Hits:  c.l2Hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errs.Load(),
		Entries: entries,
	}
}

// HitRate is the percentage of lookups answered by either level.
func (c *MultiLevelCache) HitRate() float64 {
	s := c.Stats()
	total := s.L1Hits + s.L2Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits+s.L2Hits) / float64(total) * 100
}

func (c *MultiLevelCache) setL1(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > c.l1TTL {
		ttl = c.l1TTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1[key] = memoryEntry{data: data, expiresAt: now.Add(ttl)}

	// opportunistic sweep keeps the map from growing without bound
	if len(c.l1)%256 == 0 {
		for k, e := range c.l1 {
			if now.After(e.expiresAt) {
				delete(c.l1, k)
			}
		}
	}
}

func (c *MultiLevelCache) getL1(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.l1[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}
