package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.TaskProcessed("completed")
	m.TaskProcessed("completed")
	m.TaskProcessed("retryable-failure")
	m.Records("new", 3)
	m.Records("unchanged", 0)
	m.WriteFailures(2)
	m.FetchRetry()
	m.FollowUpsDropped(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksProcessed.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksProcessed.WithLabelValues("retryable-failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsByClass.WithLabelValues("new")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.recordsByClass.WithLabelValues("unchanged")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.writeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchRetries))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.followUpsDropped))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.TaskProcessed("completed")
	m.Records("new", 1)
	m.WriteFailures(1)
	m.FetchRetry()
	m.FollowUpsDropped(1)
}
