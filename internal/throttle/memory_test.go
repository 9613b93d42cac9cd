package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheBlockAndExpire(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()
	_, blocked := cache.Blocked("webs-wa")
	assert.False(t, blocked)

	require.NoError(t, cache.Block("webs-wa", time.Minute))
	remaining, blocked := cache.Blocked("webs-wa")
	require.True(t, blocked)
	assert.Positive(t, remaining)
	assert.LessOrEqual(t, remaining, time.Minute)

	// Other targets are unaffected.
	_, blocked = cache.Blocked("other-portal")
	assert.False(t, blocked)
}

func TestMemoryCacheExpiredBlockClears(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()
	require.NoError(t, cache.Block("webs-wa", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, blocked := cache.Blocked("webs-wa")
	assert.False(t, blocked)
}
