// Package pubsub implements the task queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
)

// Config names the Pub/Sub resources used for crawl tasks.
type Config struct {
	ProjectID    string
	TopicID      string
	Subscription string
}

// Queue publishes follow-up tasks to a topic and consumes tasks from a
// subscription. Delivery is at-least-once; the persistence layer's
// idempotent writes make duplicate deliveries harmless.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	tasks  chan crawler.CrawlTask
	logger *zap.Logger
}

// New creates a Pub/Sub task queue. It authenticates using Application
// Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project_id and topic_id are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %s: %w", cfg.TopicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	q := &Queue{
		client: client,
		topic:  topic,
		tasks:  make(chan crawler.CrawlTask),
		logger: logger,
	}
	if cfg.Subscription != "" {
		q.sub = client.Subscription(cfg.Subscription)
	}
	return q, nil
}

// Start begins pumping subscription messages into Dequeue. It returns
// immediately; the receive loop stops when the context finishes. Messages
// that do not decode as tasks are acked and dropped: redelivering a poison
// message forever helps nobody.
func (q *Queue) Start(ctx context.Context) error {
	if q.sub == nil {
		return fmt.Errorf("no subscription configured")
	}
	go func() {
		err := q.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			var task crawler.CrawlTask
			if err := json.Unmarshal(m.Data, &task); err != nil {
				q.logger.Error("undecodable task message dropped", zap.Error(err))
				m.Ack()
				return
			}
			select {
			case q.tasks <- task:
				m.Ack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
		}
	}()
	return nil
}

// Enqueue publishes one task.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"target_id": task.TargetID,
			"kind":      string(task.Kind),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %s: %w", task.TaskID, err)
	}
	return nil
}

// Dequeue returns the next received task.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlTask, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.tasks:
		return task, nil
	}
}

// Close stops the publisher and releases the client.
func (q *Queue) Close() error {
	q.topic.Stop()
	return q.client.Close()
}
