package chain

import (
	"context"
	"sync"
	"time"
)

// HeadReader reads the chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// HeadCache caches LatestBlock so frequent health probes do not each hit the node.
type HeadCache struct {
	reader HeadReader
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(reader HeadReader, ttl time.Duration) *HeadCache {
	return &HeadCache{reader: reader, ttl: ttl}
}

// LatestBlock returns the cached head if within TTL, otherwise fetches fresh.
func (c *HeadCache) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.reader.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return head, nil
}

// Invalidate forces the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
