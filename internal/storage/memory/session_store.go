package memory

import (
	"context"
	"sync"

	"github.com/govscout/crawlworker/internal/crawler"
)

// SessionStore keeps session snapshots in a map.
type SessionStore struct {
	mu        sync.RWMutex
	snapshots map[string]crawler.SessionSnapshot
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{snapshots: make(map[string]crawler.SessionSnapshot)}
}

// Load returns the snapshot saved for a target, if any.
func (s *SessionStore) Load(_ context.Context, targetID string) (crawler.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[targetID]
	return snap, ok, nil
}

// Save overwrites the snapshot for the snapshot's target.
func (s *SessionStore) Save(_ context.Context, snapshot crawler.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.TargetID] = snapshot
	return nil
}
