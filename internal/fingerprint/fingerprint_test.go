// Package fingerprint includes tests for the canonical field hasher.
package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscout/crawlworker/internal/crawler"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	fields := []crawler.Field{
		{Name: "title", Value: "Road Resurfacing RFP"},
		{Name: "number", Value: "2026-0142"},
		{Name: "status", Value: "Open"},
	}

	first := h.Fingerprint(fields)
	second := h.Fingerprint(fields)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "expected hex-encoded sha256")
}

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	t.Parallel()

	h := New()
	forward := h.Fingerprint([]crawler.Field{
		{Name: "title", Value: "Road Resurfacing RFP"},
		{Name: "number", Value: "2026-0142"},
	})
	reversed := h.Fingerprint([]crawler.Field{
		{Name: "number", Value: "2026-0142"},
		{Name: "title", Value: "Road Resurfacing RFP"},
	})
	assert.Equal(t, forward, reversed)
}

func TestFingerprintSensitiveToValues(t *testing.T) {
	t.Parallel()

	h := New()
	open := h.Fingerprint([]crawler.Field{
		{Name: "number", Value: "2026-0142"},
		{Name: "status", Value: "Open"},
	})
	closed := h.Fingerprint([]crawler.Field{
		{Name: "number", Value: "2026-0142"},
		{Name: "status", Value: "Closed"},
	})
	assert.NotEqual(t, open, closed)
}

// Length-prefixed encoding keeps adjacent name/value pairs from colliding by
// concatenation: {"ab": "c"} must hash differently from {"a": "bc"}.
func TestFingerprintNoConcatenationCollisions(t *testing.T) {
	t.Parallel()

	h := New()
	left := h.Fingerprint([]crawler.Field{{Name: "ab", Value: "c"}})
	right := h.Fingerprint([]crawler.Field{{Name: "a", Value: "bc"}})
	assert.NotEqual(t, left, right)
}

func TestFingerprintEmptyFields(t *testing.T) {
	t.Parallel()

	h := New()
	empty := h.Fingerprint(nil)
	require.NotEmpty(t, empty)
	assert.Equal(t, empty, h.Fingerprint([]crawler.Field{}))
	assert.NotEqual(t, empty, h.Fingerprint([]crawler.Field{{Name: "a", Value: ""}}))
}

func TestFingerprintDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	h := New()
	fields := []crawler.Field{
		{Name: "z", Value: "last"},
		{Name: "a", Value: "first"},
	}
	h.Fingerprint(fields)
	assert.Equal(t, "z", fields[0].Name, "input slice order must be preserved")
}
