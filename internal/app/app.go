// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the worker process.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/clock/system"
	"github.com/govscout/crawlworker/internal/config"
	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/dedup"
	"github.com/govscout/crawlworker/internal/extract"
	"github.com/govscout/crawlworker/internal/fingerprint"
	"github.com/govscout/crawlworker/internal/id/uuid"
	"github.com/govscout/crawlworker/internal/logging"
	"github.com/govscout/crawlworker/internal/metrics"
	"github.com/govscout/crawlworker/internal/orchestrator"
	memqueue "github.com/govscout/crawlworker/internal/queue/memory"
	psqueue "github.com/govscout/crawlworker/internal/queue/pubsub"
	"github.com/govscout/crawlworker/internal/runner"
	"github.com/govscout/crawlworker/internal/session"
	"github.com/govscout/crawlworker/internal/storage/gcs"
	memstore "github.com/govscout/crawlworker/internal/storage/memory"
	pgstore "github.com/govscout/crawlworker/internal/storage/postgres"
	redisstore "github.com/govscout/crawlworker/internal/storage/redis"
	"github.com/govscout/crawlworker/internal/throttle"
)

// App holds the shared, long-lived services for one worker process. It is
// initialized once at startup and fails fast if any critical service cannot
// be built.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	queue   crawler.TaskQueue
	runner  *runner.Runner
	metrics *metrics.Metrics
	closers []func()
}

// New builds the full pipeline from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	logger.Info("initializing services")

	a := &App{cfg: cfg, logger: logger}

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	dedupStore, err := a.buildDedupStore(ctx)
	if err != nil {
		return nil, err
	}
	sessionStore, err := a.buildSessionStore()
	if err != nil {
		return nil, err
	}
	throttleCache := a.buildThrottleCache()
	queue, err := a.buildQueue(ctx)
	if err != nil {
		return nil, err
	}
	a.queue = queue

	a.metrics = metrics.New(prometheus.DefaultRegisterer)

	clk := system.New()
	sessions := session.NewManager(session.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.FetchTimeout(),
		MaxRedirects:  cfg.HTTP.MaxRedirects,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		MaxParallel:   cfg.HTTP.MaxParallel,
		RespectRobots: cfg.HTTP.RespectRobots,
		MaxRetries:    cfg.HTTP.MaxRetries,
		BackoffBase:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		DefaultBlock:  time.Duration(cfg.Throttle.BlockSeconds) * time.Second,
	}, throttleCache, a.metrics, logger)

	gateway := dedup.New(dedupStore, blobs, fingerprint.New(), clk, logger)
	orch := orchestrator.New(
		sessions,
		sessionStore,
		extract.New(logger),
		gateway,
		uuid.NewGenerator(),
		clk,
		orchestrator.Config{MaxFanOut: cfg.Crawler.MaxFanOut},
		logger,
	)
	a.runner = runner.New(
		queue,
		extract.NewRegistry(cfg.Rules.Dir),
		orch,
		a.metrics,
		runner.Config{MaxAttempts: cfg.Crawler.MaxAttempts},
		logger,
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Queue returns the task queue.
func (a *App) Queue() crawler.TaskQueue { return a.queue }

// Runner returns the crawl runner loop.
func (a *App) Runner() *runner.Runner { return a.runner }

// Close releases all held resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return gcs.New(client, gcs.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
	default:
		a.logger.Info("using in-memory blob store")
		return memstore.NewBlobStore(), nil
	}
}

func (a *App) buildDedupStore(ctx context.Context) (crawler.DedupStore, error) {
	switch a.cfg.DB.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres")
		store, err := pgstore.NewDedupStore(ctx, pgstore.DedupStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: int32(a.cfg.DB.MaxOpenConns),
			MinConns: int32(a.cfg.DB.MinOpenConns),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		a.logger.Info("using in-memory dedup store")
		return memstore.NewDedupStore(), nil
	}
}

func (a *App) buildSessionStore() (crawler.SessionStore, error) {
	switch a.cfg.Session.Provider {
	case "redis":
		a.logger.Info("using redis session store", zap.String("addr", a.cfg.Session.RedisAddr))
		store := redisstore.NewSessionStore(a.cfg.Session.RedisAddr, a.cfg.Session.KeyPrefix, a.cfg.SessionTTL())
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	default:
		a.logger.Info("using in-memory session store")
		return memstore.NewSessionStore(), nil
	}
}

func (a *App) buildThrottleCache() crawler.ThrottleCache {
	switch a.cfg.Throttle.Provider {
	case "memcache":
		a.logger.Info("using memcache throttle cache", zap.String("addr", a.cfg.Throttle.MemcacheAddr))
		return throttle.NewMemcacheCache(a.cfg.Throttle.MemcacheAddr, "")
	default:
		a.logger.Info("using in-memory throttle cache")
		return throttle.NewMemoryCache()
	}
}

func (a *App) buildQueue(ctx context.Context) (crawler.TaskQueue, error) {
	switch a.cfg.Queue.Provider {
	case "pubsub":
		a.logger.Info("connecting to pubsub",
			zap.String("topic", a.cfg.Queue.TopicID),
			zap.String("subscription", a.cfg.Queue.Subscription),
		)
		q, err := psqueue.New(ctx, psqueue.Config{
			ProjectID:    a.cfg.Queue.ProjectID,
			TopicID:      a.cfg.Queue.TopicID,
			Subscription: a.cfg.Queue.Subscription,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		if a.cfg.Queue.Subscription != "" {
			if err := q.Start(ctx); err != nil {
				return nil, err
			}
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		return q, nil
	default:
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Crawler.QueueDepth))
		q := memqueue.NewQueue(a.cfg.Crawler.QueueDepth)
		a.closers = append(a.closers, q.Close)
		return q, nil
	}
}
