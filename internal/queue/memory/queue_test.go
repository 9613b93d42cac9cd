package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscout/crawlworker/internal/crawler"
)

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	task := crawler.CrawlTask{
		TaskID:   "task-1",
		TargetID: "webs-wa",
		URL:      "https://webs.example.gov/",
		Kind:     crawler.TaskKindListingPage,
	}
	require.NoError(t, q.Enqueue(context.Background(), task))
	assert.Equal(t, 1, q.Len())

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, task, got)
	assert.Zero(t, q.Len())
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), crawler.CrawlTask{TaskID: id}))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got.TaskID)
	}
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.CrawlTask{TaskID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, crawler.CrawlTask{TaskID: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
