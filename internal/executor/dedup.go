package executor

import (
	"context"
	"sync"
	"time"

	"tradegate/internal/domain"
)

// MemoryDedup is the in-process domain.DedupStore used when no Redis
// instance is configured. A key is a duplicate if it was seen within the
// TTL window. Safe for concurrent use.
type MemoryDedup struct {
	mu          sync.Mutex
	seen        map[string]time.Time // identity key -> last seen
	ttl         time.Duration
	lastCleanup time.Time
}

// NewMemoryDedup creates a MemoryDedup with the given TTL window.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		lastCleanup: time.Now(),
	}
}

// Seen records the key and reports whether it was already present within the
// TTL. Expired entries are swept opportunistically so the map stays bounded
// without a dedicated janitor goroutine.
func (d *MemoryDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.Sub(d.lastCleanup) >= d.ttl {
		d.cleanupLocked(now)
	}

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

// cleanupLocked removes expired entries. Callers must hold mu.
func (d *MemoryDedup) cleanupLocked(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	d.lastCleanup = now
}

var _ domain.DedupStore = (*MemoryDedup)(nil)
