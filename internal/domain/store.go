package domain

import (
	"context"
	"time"
)

// AuditEntry is one row of the append-only event audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts carries pagination and filtering for audit queries. Event narrows
// the result to one event kind when non-empty.
type ListOpts struct {
	Limit  int
	Offset int
	Event  string
	Since  *time.Time
	Until  *time.Time
}

// AuditStore records every published pipeline event for external audit.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// DedupStore answers whether a signal identity has already been processed
// within the dedup window. Implementations must be safe for concurrent use.
type DedupStore interface {
	// Seen records the key and reports whether it was already present.
	Seen(ctx context.Context, key string) (bool, error)
}
