package dedup

import (
	"context"
	"sync"
	"time"
)

// claimEntry is a claimed key and the moment it frees up.
type claimEntry struct {
	expiresAt time.Time
}

func (e claimEntry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryClaimer is an in-memory implementation of domain.Claimer.
// Use this for development/testing or single-instance deployments.
type MemoryClaimer struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	now     func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryClaimer creates a new in-memory claimer with automatic cleanup.
func NewMemoryClaimer() *MemoryClaimer {
	c := &MemoryClaimer{
		entries:         make(map[string]claimEntry),
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Claim grants key to the caller unless an unexpired claim exists.
func (c *MemoryClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, exists := c.entries[key]; exists && !entry.isExpired(now) {
		return false, nil
	}
	c.entries[key] = claimEntry{expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops a claim.
func (c *MemoryClaimer) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Len returns the number of claims, expired ones included until the next cleanup.
func (c *MemoryClaimer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine.
func (c *MemoryClaimer) Close() error {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

func (c *MemoryClaimer) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryClaimer) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
		}
	}
}
