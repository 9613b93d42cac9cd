// Package memory provides in-memory storage implementations for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"github.com/govscout/crawlworker/internal/crawler"
)

// DedupStore keeps dedup state in a map, honoring the same conditional-write
// discipline as the durable stores.
type DedupStore struct {
	mu     sync.RWMutex
	states map[string]crawler.DedupState
}

// NewDedupStore constructs a DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{states: make(map[string]crawler.DedupState)}
}

func stateKey(targetID, naturalKey string) string {
	return targetID + "\x00" + naturalKey
}

// Lookup returns the last-known state for a natural key.
func (s *DedupStore) Lookup(_ context.Context, targetID, naturalKey string) (crawler.DedupState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey(targetID, naturalKey)]
	return state, ok, nil
}

// CompareAndSwap applies the state only when the stored fingerprint still
// matches priorFingerprint (empty for a first sighting).
func (s *DedupStore) CompareAndSwap(_ context.Context, state crawler.DedupState, priorFingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(state.TargetID, state.NaturalKey)
	current, exists := s.states[key]
	switch {
	case priorFingerprint == "" && exists:
		return crawler.ErrFingerprintConflict
	case priorFingerprint != "" && (!exists || current.Fingerprint != priorFingerprint):
		return crawler.ErrFingerprintConflict
	}
	s.states[key] = state
	return nil
}
