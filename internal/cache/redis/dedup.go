package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradegate/internal/domain"
)

// dedupKeyPrefix namespaces dedup keys so the bot can share a Redis instance
// with other tooling.
const dedupKeyPrefix = "tradegate:dedup:"

// Dedup implements domain.DedupStore on Redis so duplicate alerts are
// suppressed across replicas and restarts within the TTL window.
type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedup creates a Dedup backed by the given Client.
func NewDedup(c *Client, ttl time.Duration) *Dedup {
	return &Dedup{rdb: c.rdb, ttl: ttl}
}

// Seen atomically records the key with SET NX and reports whether it already
// existed. The TTL bounds how long an identity blocks re-execution.
func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup setnx %s: %w", key, err)
	}
	// SetNX returns false when the key was already present.
	return !ok, nil
}

var _ domain.DedupStore = (*Dedup)(nil)
