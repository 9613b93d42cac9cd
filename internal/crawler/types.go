// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// TaskKind identifies what a crawl task is expected to do with its URL.
type TaskKind string

// Task kinds delivered by the work queue.
const (
	TaskKindListingPage  TaskKind = "listing-page"
	TaskKindDetailPage   TaskKind = "detail-page"
	TaskKindContinuation TaskKind = "pagination-continuation"
)

// CrawlTask is one unit of crawl work: a single page fetch plus its
// processing. Tasks are immutable once enqueued; a retry is a new task with
// an incremented Attempt, never a mutation of the original.
type CrawlTask struct {
	TaskID     string   `json:"task_id"`
	TargetID   string   `json:"target_id"`
	URL        string   `json:"url"`
	Kind       TaskKind `json:"kind"`
	Cursor     string   `json:"cursor,omitempty"`
	Attempt    int      `json:"attempt"`
	ParentID   string   `json:"parent_id,omitempty"`
	SessionRef string   `json:"session_ref,omitempty"`
}

// Validate checks the fields required before a task may be processed.
func (t CrawlTask) Validate() error {
	if t.TargetID == "" {
		return fmt.Errorf("task %s: target_id is required", t.TaskID)
	}
	if t.URL == "" {
		return fmt.Errorf("task %s: url is required", t.TaskID)
	}
	switch t.Kind {
	case TaskKindListingPage, TaskKindDetailPage, TaskKindContinuation:
		return nil
	default:
		return fmt.Errorf("task %s: unknown kind %q", t.TaskID, t.Kind)
	}
}

// Field is one extracted name/value pair. Order of fields within a record is
// preserved as extracted; the fingerprint normalizes it.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExtractedRecord is one domain entity pulled from a page. NaturalKey names
// "the same entity across time"; Fingerprint names "this exact content".
type ExtractedRecord struct {
	NaturalKey  string    `json:"natural_key"`
	Fields      []Field   `json:"fields"`
	Fingerprint string    `json:"fingerprint"`
	SourceURL   string    `json:"source_url"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Classification is the dedup verdict for one extracted record.
type Classification string

// Classifications returned by the dedup gateway.
const (
	ClassificationNew       Classification = "new"
	ClassificationChanged   Classification = "changed"
	ClassificationUnchanged Classification = "unchanged"
)

// ReconcileResult pairs a record with its classification and, when the
// durable write for that record failed, the per-record error.
type ReconcileResult struct {
	Record         ExtractedRecord
	Classification Classification
	WriteErr       error
}

// DedupState is the persisted last-known fingerprint for a natural key.
type DedupState struct {
	TargetID    string    `json:"target_id"`
	NaturalKey  string    `json:"natural_key"`
	Fingerprint string    `json:"fingerprint"`
	BlobURI     string    `json:"blob_uri"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionSnapshot is the durable representation of one target's cookie and
// header state. The blob is versioned so a later format change is detected
// instead of failing hard; loaders ignore versions they do not understand.
type SessionSnapshot struct {
	Version  int               `json:"version"`
	TargetID string            `json:"target_id"`
	Cookies  []SessionCookie   `json:"cookies"`
	Headers  map[string]string `json:"headers,omitempty"`
	SavedAt  time.Time         `json:"saved_at"`
}

// SessionCookie is one serialized cookie. Non-persistent session cookies are
// included: the logical browsing session spans separate invocations.
type SessionCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// SnapshotVersion is the current SessionSnapshot wire version.
const SnapshotVersion = 1

// OutcomeStatus is the terminal status of one processed task.
type OutcomeStatus string

// Outcome statuses reported to the invocation trigger.
const (
	StatusCompleted        OutcomeStatus = "completed"
	StatusRetryableFailure OutcomeStatus = "retryable-failure"
	StatusFatalFailure     OutcomeStatus = "fatal-failure"
)

// OutcomeCounts aggregates record classifications for one task.
type OutcomeCounts struct {
	Seen          int `json:"seen"`
	New           int `json:"new"`
	Changed       int `json:"changed"`
	Unchanged     int `json:"unchanged"`
	WriteFailures int `json:"write_failures"`
}

// CrawlOutcome is the result of processing one CrawlTask. It is created once
// per task and handed back to the invocation trigger, which maps Status to
// platform-level ack/retry signaling.
type CrawlOutcome struct {
	TaskID          string        `json:"task_id"`
	Status          OutcomeStatus `json:"status"`
	Counts          OutcomeCounts `json:"counts"`
	FollowUps       []CrawlTask   `json:"follow_ups,omitempty"`
	DroppedFollowUp int           `json:"dropped_follow_ups,omitempty"`
	BackoffHint     time.Duration `json:"backoff_hint,omitempty"`
	ErrorText       string        `json:"error_text,omitempty"`
}
