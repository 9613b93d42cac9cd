// Package orchestrator drives one crawl task start-to-finish: fetch,
// extract, reconcile, emit follow-ups, report. It holds no state across
// invocations; everything durable flows through the storage interfaces.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/dedup"
	"github.com/govscout/crawlworker/internal/extract"
	"github.com/govscout/crawlworker/internal/session"
)

// Postback form fields replayed for pagination continuations on
// postback-driven portals.
const (
	formFieldEventTarget   = "__EVENTTARGET"
	formFieldEventArgument = "__EVENTARGUMENT"
)

// Config bounds orchestrator behavior.
type Config struct {
	// MaxFanOut caps the number of follow-up tasks emitted per task.
	// Excess discovered links are dropped with a recorded warning.
	MaxFanOut int
}

// Orchestrator executes the per-invocation state machine:
// Fetching -> Extracting -> Reconciling -> Emitting -> Done, with a
// terminal Failed reachable from any state.
type Orchestrator struct {
	sessions  *session.Manager
	store     crawler.SessionStore
	extractor *extract.Extractor
	gateway   *dedup.Gateway
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(
	sessions *session.Manager,
	store crawler.SessionStore,
	extractor *extract.Extractor,
	gateway *dedup.Gateway,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxFanOut <= 0 {
		cfg.MaxFanOut = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:  sessions,
		store:     store,
		extractor: extractor,
		gateway:   gateway,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process handles exactly one task and returns its outcome. Internal
// retries stop at the session manager's fetch retries; redelivery of the
// whole task is the trigger's job, which is safe because every durable
// write downstream is idempotent.
func (o *Orchestrator) Process(ctx context.Context, task crawler.CrawlTask, rules *extract.RuleSet) crawler.CrawlOutcome {
	if err := task.Validate(); err != nil {
		return o.failed(task, crawler.StatusFatalFailure, err, 0)
	}

	// Fetching.
	handle, resp, err := o.fetchState(ctx, task)
	if err != nil {
		return o.classifyFailure(task, err)
	}

	// Extracting.
	records, links, err := o.extractor.Extract(resp.Body, rules, resp.URL)
	if err != nil {
		o.saveSnapshot(ctx, task, handle)
		return o.classifyFailure(task, err)
	}

	// Reconciling.
	results := o.gateway.Reconcile(ctx, task.TargetID, records)
	counts := tally(results)

	// Emitting.
	followUps, dropped, err := o.buildFollowUps(task, links)
	if err != nil {
		// An ID source failure is environmental, not a fan-out decision:
		// redelivery re-derives the same records idempotently.
		o.saveSnapshot(ctx, task, handle)
		return o.classifyFailure(task, err)
	}
	if dropped > 0 {
		o.logger.Warn("follow-up fan-out capped",
			zap.String("task_id", task.TaskID),
			zap.Int("cap", o.cfg.MaxFanOut),
			zap.Int("dropped", dropped),
		)
	}

	// The session snapshot outlives the invocation regardless of
	// per-record write failures: later tasks want the cookies either way.
	o.saveSnapshot(ctx, task, handle)

	status := crawler.StatusCompleted
	errText := ""
	if counts.WriteFailures > 0 {
		// Re-deriving and re-writing is safe, so a partial storage
		// failure retries the whole task.
		status = crawler.StatusRetryableFailure
		errText = firstWriteError(results)
	}

	return crawler.CrawlOutcome{
		TaskID:          task.TaskID,
		Status:          status,
		Counts:          counts,
		FollowUps:       followUps,
		DroppedFollowUp: dropped,
		ErrorText:       errText,
	}
}

func (o *Orchestrator) fetchState(ctx context.Context, task crawler.CrawlTask) (*session.Handle, session.Response, error) {
	prior, err := o.loadSnapshot(ctx, task)
	if err != nil {
		return nil, session.Response{}, err
	}
	handle, err := o.sessions.Acquire(task.TargetID, prior)
	if err != nil {
		return nil, session.Response{}, err
	}

	var resp session.Response
	if task.Kind == crawler.TaskKindContinuation && task.Cursor != "" {
		resp, err = o.replayPostback(ctx, handle, task)
	} else {
		resp, err = o.sessions.Fetch(ctx, handle, task.URL)
	}
	if err != nil {
		return nil, session.Response{}, err
	}
	return handle, resp, nil
}

// replayPostback continues a postback-driven pager: fetch the page, lift the
// form's hidden server state (__VIEWSTATE, __EVENTVALIDATION, and friends),
// and post it back with the cursor as the event target. WebForms portals
// reject a postback that does not echo the viewstate.
func (o *Orchestrator) replayPostback(ctx context.Context, handle *session.Handle, task crawler.CrawlTask) (session.Response, error) {
	page, err := o.sessions.Fetch(ctx, handle, task.URL)
	if err != nil {
		return session.Response{}, err
	}
	form := extract.FormFields(page.Body)
	form[formFieldEventTarget] = task.Cursor
	form[formFieldEventArgument] = ""
	return o.sessions.FetchForm(ctx, handle, task.URL, form)
}

func (o *Orchestrator) loadSnapshot(ctx context.Context, task crawler.CrawlTask) (*crawler.SessionSnapshot, error) {
	if o.store == nil || task.SessionRef == "" {
		return nil, nil
	}
	snap, found, err := o.store.Load(ctx, task.SessionRef)
	if err != nil {
		// A missing or unreadable snapshot only costs session churn.
		o.logger.Warn("session snapshot load failed, starting cold",
			zap.String("session_ref", task.SessionRef),
			zap.Error(err),
		)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// saveSnapshot persists the session under the same key loadSnapshot reads:
// the task's session ref. Targets that share a ref across tasks keep one
// snapshot, and the follow-ups this task emits find it on their next hop.
func (o *Orchestrator) saveSnapshot(ctx context.Context, task crawler.CrawlTask, handle *session.Handle) {
	if o.store == nil || handle == nil {
		return
	}
	snap := handle.Snapshot(o.clock.Now())
	if task.SessionRef != "" {
		snap.TargetID = task.SessionRef
	}
	if err := o.store.Save(ctx, snap); err != nil {
		o.logger.Warn("session snapshot save failed",
			zap.String("target", snap.TargetID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) buildFollowUps(task crawler.CrawlTask, links []extract.DiscoveredLink) ([]crawler.CrawlTask, int, error) {
	var followUps []crawler.CrawlTask
	dropped := 0
	for _, link := range links {
		if len(followUps) >= o.cfg.MaxFanOut {
			dropped++
			continue
		}
		id, err := o.ids.NewID()
		if err != nil {
			return nil, 0, fmt.Errorf("generate follow-up id: %w", err)
		}
		kind := crawler.TaskKindDetailPage
		if link.Kind == extract.LinkPagination {
			kind = crawler.TaskKindContinuation
		}
		followUps = append(followUps, crawler.CrawlTask{
			TaskID:     id,
			TargetID:   task.TargetID,
			URL:        link.URL,
			Kind:       kind,
			Cursor:     link.Cursor,
			Attempt:    0,
			ParentID:   task.TaskID,
			SessionRef: task.SessionRef,
		})
	}
	return followUps, dropped, nil
}

func (o *Orchestrator) classifyFailure(task crawler.CrawlTask, err error) crawler.CrawlOutcome {
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		// Every fetch failure is retryable: fatal demands operator
		// attention and a refused or oversized page may succeed later.
		return o.failed(task, crawler.StatusRetryableFailure, err, fetchErr.RetryAfter)
	}
	var extractionErr *crawler.ExtractionError
	if errors.As(err, &extractionErr) {
		// Redelivery cannot fix a broken rule set or undecodable content.
		return o.failed(task, crawler.StatusFatalFailure, err, 0)
	}
	return o.failed(task, crawler.StatusRetryableFailure, err, 0)
}

func (o *Orchestrator) failed(task crawler.CrawlTask, status crawler.OutcomeStatus, err error, hint time.Duration) crawler.CrawlOutcome {
	o.logger.Error("task failed",
		zap.String("task_id", task.TaskID),
		zap.String("target", task.TargetID),
		zap.String("status", string(status)),
		zap.Error(err),
	)
	return crawler.CrawlOutcome{
		TaskID:      task.TaskID,
		Status:      status,
		BackoffHint: hint,
		ErrorText:   err.Error(),
	}
}

func tally(results []crawler.ReconcileResult) crawler.OutcomeCounts {
	counts := crawler.OutcomeCounts{Seen: len(results)}
	for _, r := range results {
		if r.WriteErr != nil {
			counts.WriteFailures++
			continue
		}
		switch r.Classification {
		case crawler.ClassificationNew:
			counts.New++
		case crawler.ClassificationChanged:
			counts.Changed++
		case crawler.ClassificationUnchanged:
			counts.Unchanged++
		}
	}
	return counts
}

func firstWriteError(results []crawler.ReconcileResult) string {
	for _, r := range results {
		if r.WriteErr != nil {
			return r.WriteErr.Error()
		}
	}
	return ""
}
