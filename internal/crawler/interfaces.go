package crawler

import (
	"context"
	"time"
)

// DedupStore persists the last-known fingerprint per natural key. Writes are
// conditional: the update applies only when the stored fingerprint still
// matches the fingerprint the caller observed during lookup (absent for a
// first sighting). ErrFingerprintConflict signals a lost race.
type DedupStore interface {
	Lookup(ctx context.Context, targetID, naturalKey string) (DedupState, bool, error)
	CompareAndSwap(ctx context.Context, state DedupState, priorFingerprint string) error
}

// BlobStore writes raw record payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// SessionStore loads and saves session snapshots keyed by target.
type SessionStore interface {
	Load(ctx context.Context, targetID string) (SessionSnapshot, bool, error)
	Save(ctx context.Context, snapshot SessionSnapshot) error
}

// TaskQueue provides enqueue/dequeue semantics for crawl tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task CrawlTask) error
	Dequeue(ctx context.Context) (CrawlTask, error)
}

// ThrottleCache remembers targets that signaled throttling so later
// invocations back off without touching the network.
type ThrottleCache interface {
	Blocked(targetID string) (time.Duration, bool)
	Block(targetID string, d time.Duration) error
}

// Hasher computes the content fingerprint for an ordered field mapping.
type Hasher interface {
	Fingerprint(fields []Field) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
