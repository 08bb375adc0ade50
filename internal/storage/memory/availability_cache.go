package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type cacheEntry struct {
	value     int64
	expiresAt time.Time
}

// AvailabilityCache — in-memory кеш доступного остатка с TTL.
type AvailabilityCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewAvailabilityCache создаёт кеш; ttl <= 0 означает хранение без срока.
func NewAvailabilityCache(ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *AvailabilityCache) Get(_ context.Context, productID string) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[productID]
	if !ok {
		return 0, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return 0, false, nil
	}
	return e.value, true, nil
}

func (c *AvailabilityCache) Set(_ context.Context, productID string, available int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{value: available}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[productID] = e
	return nil
}

func (c *AvailabilityCache) Invalidate(_ context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	return nil
}

var _ domain.AvailabilityCache = (*AvailabilityCache)(nil)
