package crawler

import (
	"errors"
	"fmt"
	"time"
)

// FetchErrorKind partitions fetch failures for orchestrator classification.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchThrottled FetchErrorKind = "throttled"
	FetchTooLarge  FetchErrorKind = "too-large"
	FetchProtocol  FetchErrorKind = "protocol"
)

// FetchError describes a failed fetch. Throttled errors carry the target's
// suggested backoff so the trigger can delay redelivery.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionErrorKind partitions extraction failures.
type ExtractionErrorKind string

// Extraction failure kinds. Both are fatal: retrying cannot fix a broken
// rule set or undecodable content.
const (
	ExtractionBadRuleSet  ExtractionErrorKind = "bad-ruleset"
	ExtractionUndecodable ExtractionErrorKind = "undecodable"
)

// ExtractionError describes a failure to build the DOM or apply a rule set.
// Zero selector matches are not errors and never produce one.
type ExtractionError struct {
	Kind ExtractionErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extraction: %s", e.Kind)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrFingerprintConflict is returned by DedupStore.CompareAndSwap when the
// stored fingerprint no longer matches the one observed at lookup time. The
// record must be re-derived against fresh state, so the task is retried.
var ErrFingerprintConflict = errors.New("dedup state changed since lookup")

// PersistenceError wraps a storage failure for one record. All persistence
// failures are retry-safe: writes are idempotent by (key, fingerprint).
type PersistenceError struct {
	NaturalKey string
	Op         string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.NaturalKey, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
