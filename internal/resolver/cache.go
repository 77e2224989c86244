// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Cache stores resolutions keyed by (work, station, format). Implementations
// must support invalidating every entry of one work, since file and
// preference writes change the answer for all station/format combinations.
type Cache interface {
	Get(ctx context.Context, key string) (Resolution, bool, error)
	Set(ctx context.Context, key string, res Resolution, ttl time.Duration) error
	InvalidateWork(ctx context.Context, workID int64) error
}

func cacheKey(workID int64, stationID, formatCode string) string {
	return strconv.FormatInt(workID, 10) + ":" + stationID + ":" + formatCode
}

type memoryEntry struct {
	res     Resolution
	expires time.Time
}

// MemoryCache is the default single-process cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache builds an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Resolution, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Resolution{}, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return Resolution{}, false, nil
	}
	return e.res, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, res Resolution, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{res: res, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) InvalidateWork(_ context.Context, workID int64) error {
	prefix := strconv.FormatInt(workID, 10) + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}
