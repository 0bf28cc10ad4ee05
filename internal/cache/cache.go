// Package cache stores parsed drift tracks so repeated requests for the same
// buoy within its update interval do not refetch telemetry.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// Cache defines the interface for drift track caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.DriftTrack, bool, error)
	Set(ctx context.Context, key string, value models.DriftTrack, ttl time.Duration) error
}

// Key builds the cache key for the last count points of a buoy. count <= 0
// means the full record.
func Key(sourceID string, count int) string {
	if count <= 0 {
		return sourceID + ":all"
	}
	return sourceID + ":" + strconv.Itoa(count)
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	clock clockwork.Clock
}

type cacheEntry struct {
	value     models.DriftTrack
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache. A nil clock uses the real clock.
func NewInMemoryCache(clock clockwork.Clock) *InMemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get retrieves the cached track for key if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.DriftTrack, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a track with the given TTL. Tracks are immutable, so the slice
// is shared rather than copied.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.DriftTrack, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}
