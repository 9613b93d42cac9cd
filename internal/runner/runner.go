// Package runner adapts the queue to the orchestrator: it consumes crawl
// tasks, runs each one as an isolated invocation, and maps outcomes back to
// queue-level retry signaling.
package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/extract"
	"github.com/govscout/crawlworker/internal/metrics"
)

// Processor executes one task against a rule set. Implemented by the
// orchestrator.
type Processor interface {
	Process(ctx context.Context, task crawler.CrawlTask, rules *extract.RuleSet) crawler.CrawlOutcome
}

// Config controls Runner behavior.
type Config struct {
	// MaxAttempts bounds redelivery of a retryable task. The attempt
	// counter travels with the task, so the bound holds across restarts.
	MaxAttempts int
}

// Runner consumes queue items and executes the crawl pipeline.
type Runner struct {
	queue   crawler.TaskQueue
	rules   *extract.Registry
	proc    Processor
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger

	retries sync.WaitGroup
}

// New constructs a Runner.
func New(
	queue crawler.TaskQueue,
	rules *extract.Registry,
	proc Processor,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:   queue,
		rules:   rules,
		proc:    proc,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming tasks until the context finishes. Pending backoff
// timers are drained before it returns.
func (r *Runner) Run(ctx context.Context) {
	defer r.retries.Wait()
	for {
		task, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		r.processTask(ctx, task)
	}
}

func (r *Runner) processTask(ctx context.Context, task crawler.CrawlTask) {
	logger := r.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("target", task.TargetID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempt),
	)
	logger.Debug("task dequeued", zap.String("url", task.URL))

	ruleSet, err := r.rules.Get(task.TargetID)
	if err != nil {
		// Without a valid rule set nothing about this target can be
		// crawled. Operator attention required; do not redeliver.
		logger.Error("rule set unavailable", zap.Error(err))
		r.metrics.TaskProcessed(string(crawler.StatusFatalFailure))
		return
	}

	outcome := r.proc.Process(ctx, task, ruleSet)
	r.record(outcome)

	for _, followUp := range outcome.FollowUps {
		if err := r.queue.Enqueue(ctx, followUp); err != nil {
			logger.Error("enqueue follow-up failed",
				zap.String("follow_up_id", followUp.TaskID),
				zap.Error(err),
			)
		}
	}

	switch outcome.Status {
	case crawler.StatusCompleted:
		logger.Info("task completed",
			zap.Int("seen", outcome.Counts.Seen),
			zap.Int("new", outcome.Counts.New),
			zap.Int("changed", outcome.Counts.Changed),
			zap.Int("unchanged", outcome.Counts.Unchanged),
			zap.Int("follow_ups", len(outcome.FollowUps)),
		)
	case crawler.StatusRetryableFailure:
		r.redeliver(ctx, task, outcome, logger)
	case crawler.StatusFatalFailure:
		logger.Error("task failed permanently", zap.String("error", outcome.ErrorText))
	}
}

// redeliver enqueues a fresh task with an incremented attempt counter. The
// original task value is never mutated. A backoff hint delays only this
// task's re-enqueue; the consumer loop keeps draining the queue meanwhile.
func (r *Runner) redeliver(ctx context.Context, task crawler.CrawlTask, outcome crawler.CrawlOutcome, logger *zap.Logger) {
	if task.Attempt+1 >= r.cfg.MaxAttempts {
		logger.Error("task exhausted retries", zap.String("error", outcome.ErrorText))
		return
	}
	retry := task
	retry.Attempt++
	if outcome.BackoffHint > 0 {
		logger.Warn("target requested backoff",
			zap.Duration("backoff", outcome.BackoffHint),
		)
		r.retries.Add(1)
		go func() {
			defer r.retries.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(outcome.BackoffHint):
			}
			r.enqueueRetry(ctx, retry, logger)
		}()
		return
	}
	r.enqueueRetry(ctx, retry, logger)
}

func (r *Runner) enqueueRetry(ctx context.Context, retry crawler.CrawlTask, logger *zap.Logger) {
	if err := r.queue.Enqueue(ctx, retry); err != nil {
		logger.Error("re-enqueue failed", zap.Error(err))
		return
	}
	logger.Warn("task redelivered", zap.Int("next_attempt", retry.Attempt))
}

func (r *Runner) record(outcome crawler.CrawlOutcome) {
	if r.metrics == nil {
		return
	}
	r.metrics.TaskProcessed(string(outcome.Status))
	r.metrics.Records(string(crawler.ClassificationNew), outcome.Counts.New)
	r.metrics.Records(string(crawler.ClassificationChanged), outcome.Counts.Changed)
	r.metrics.Records(string(crawler.ClassificationUnchanged), outcome.Counts.Unchanged)
	r.metrics.WriteFailures(outcome.Counts.WriteFailures)
	r.metrics.FollowUpsDropped(outcome.DroppedFollowUp)
}
