// Package redis provides a SessionStore backed by Redis. Snapshots are
// short-lived by nature (server sessions expire), so entries carry a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/govscout/crawlworker/internal/crawler"
)

// SessionStore stores versioned session snapshots as JSON blobs.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore initializes a Redis-backed SessionStore.
func NewSessionStore(addr, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "session:"
	}
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Load reads the snapshot for a target. A snapshot with an unrecognized
// version is treated as absent rather than failing the invocation.
func (s *SessionStore) Load(ctx context.Context, targetID string) (crawler.SessionSnapshot, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+targetID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.SessionSnapshot{}, false, nil
		}
		return crawler.SessionSnapshot{}, false, fmt.Errorf("load session %s: %w", targetID, err)
	}

	var snap crawler.SessionSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return crawler.SessionSnapshot{}, false, fmt.Errorf("decode session %s: %w", targetID, err)
	}
	if snap.Version != crawler.SnapshotVersion {
		return crawler.SessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

// Save writes the snapshot with the configured TTL. At most one writer per
// target is assumed; a concurrent overwrite only costs session churn.
func (s *SessionStore) Save(ctx context.Context, snapshot crawler.SessionSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", snapshot.TargetID, err)
	}
	if err := s.client.Set(ctx, s.prefix+snapshot.TargetID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", snapshot.TargetID, err)
	}
	return nil
}
