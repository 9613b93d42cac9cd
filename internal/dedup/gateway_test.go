package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/fingerprint"
	"github.com/govscout/crawlworker/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestGateway() (*Gateway, *memory.DedupStore, *memory.BlobStore) {
	store := memory.NewDedupStore()
	blobs := memory.NewBlobStore()
	clk := fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	return New(store, blobs, fingerprint.New(), clk, nil), store, blobs
}

func record(key string, fields ...crawler.Field) crawler.ExtractedRecord {
	return crawler.ExtractedRecord{
		NaturalKey: key,
		Fields:     fields,
		SourceURL:  "https://webs.example.gov/webs/search.aspx",
	}
}

func TestReconcileClassifiesNewRecords(t *testing.T) {
	t.Parallel()

	g, store, blobs := newTestGateway()
	records := []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "title", Value: "Road Resurfacing RFP"}),
		record("2026-0143", crawler.Field{Name: "title", Value: "Bridge Inspection"}),
	}

	results := g.Reconcile(context.Background(), "webs-wa", records)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, crawler.ClassificationNew, res.Classification)
		assert.NoError(t, res.WriteErr)
		assert.NotEmpty(t, res.Record.Fingerprint)
		assert.False(t, res.Record.ExtractedAt.IsZero())
	}
	assert.Equal(t, 2, blobs.Len())

	state, found, err := store.Lookup(context.Background(), "webs-wa", "2026-0142")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, results[0].Record.Fingerprint, state.Fingerprint)
	assert.Contains(t, state.BlobURI, "webs-wa/2026-0142/")

	// The written payload carries the whole record tuple, source URL
	// included.
	payload, ok := blobs.Object(fmt.Sprintf("webs-wa/2026-0142/%s.json", state.Fingerprint))
	require.True(t, ok)
	var stored crawler.ExtractedRecord
	require.NoError(t, json.Unmarshal(payload, &stored))
	assert.Equal(t, "https://webs.example.gov/webs/search.aspx", stored.SourceURL)
	assert.Equal(t, results[0].Record.ExtractedAt, stored.ExtractedAt)
}

func TestReconcileRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	g, _, blobs := newTestGateway()
	records := []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "title", Value: "Road Resurfacing RFP"}),
	}

	first := g.Reconcile(context.Background(), "webs-wa", records)
	require.Equal(t, crawler.ClassificationNew, first[0].Classification)
	writesAfterFirst := blobs.Len()

	// Same content again, as a redelivered task would present it.
	second := g.Reconcile(context.Background(), "webs-wa", records)
	require.Len(t, second, 1)
	assert.Equal(t, crawler.ClassificationUnchanged, second[0].Classification)
	assert.NoError(t, second[0].WriteErr)
	assert.Equal(t, writesAfterFirst, blobs.Len(), "unchanged records must not write")
}

func TestReconcileClassifiesChangedRecords(t *testing.T) {
	t.Parallel()

	g, store, _ := newTestGateway()
	ctx := context.Background()

	g.Reconcile(ctx, "webs-wa", []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "status", Value: "Open"}),
	})
	results := g.Reconcile(ctx, "webs-wa", []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "status", Value: "Closed"}),
	})

	require.Len(t, results, 1)
	assert.Equal(t, crawler.ClassificationChanged, results[0].Classification)
	require.NoError(t, results[0].WriteErr)

	state, found, err := store.Lookup(ctx, "webs-wa", "2026-0142")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, results[0].Record.Fingerprint, state.Fingerprint)
}

// lostRaceStore simulates a concurrent writer landing between Lookup and
// CompareAndSwap.
type lostRaceStore struct {
	*memory.DedupStore
	raceState crawler.DedupState
	raced     bool
}

func (s *lostRaceStore) CompareAndSwap(ctx context.Context, state crawler.DedupState, prior string) error {
	if !s.raced {
		s.raced = true
		if err := s.DedupStore.CompareAndSwap(ctx, s.raceState, prior); err != nil {
			return err
		}
	}
	return s.DedupStore.CompareAndSwap(ctx, state, prior)
}

func TestReconcileLostRaceToIdenticalContent(t *testing.T) {
	t.Parallel()

	hasher := fingerprint.New()
	fields := []crawler.Field{{Name: "title", Value: "Road Resurfacing RFP"}}
	store := &lostRaceStore{
		DedupStore: memory.NewDedupStore(),
		raceState: crawler.DedupState{
			TargetID:    "webs-wa",
			NaturalKey:  "2026-0142",
			Fingerprint: hasher.Fingerprint(fields),
			BlobURI:     "memory://race",
		},
	}
	clk := fixedClock{now: time.Now().UTC()}
	g := New(store, memory.NewBlobStore(), hasher, clk, nil)

	results := g.Reconcile(context.Background(), "webs-wa", []crawler.ExtractedRecord{record("2026-0142", fields...)})
	require.Len(t, results, 1)
	assert.Equal(t, crawler.ClassificationUnchanged, results[0].Classification)
	assert.NoError(t, results[0].WriteErr)
}

func TestReconcileLostRaceToDivergentContent(t *testing.T) {
	t.Parallel()

	hasher := fingerprint.New()
	store := &lostRaceStore{
		DedupStore: memory.NewDedupStore(),
		raceState: crawler.DedupState{
			TargetID:    "webs-wa",
			NaturalKey:  "2026-0142",
			Fingerprint: hasher.Fingerprint([]crawler.Field{{Name: "status", Value: "Closed"}}),
			BlobURI:     "memory://race",
		},
	}
	clk := fixedClock{now: time.Now().UTC()}
	g := New(store, memory.NewBlobStore(), hasher, clk, nil)

	results := g.Reconcile(context.Background(), "webs-wa", []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "status", Value: "Open"}),
	})
	require.Len(t, results, 1)
	require.Error(t, results[0].WriteErr)
	var persistErr *crawler.PersistenceError
	require.ErrorAs(t, results[0].WriteErr, &persistErr)
	assert.Equal(t, "swap", persistErr.Op)
	assert.ErrorIs(t, results[0].WriteErr, crawler.ErrFingerprintConflict)
}

type failingBlobStore struct{ err error }

func (s failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", s.err
}

func TestReconcileBlobFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	hasher := fingerprint.New()
	store := memory.NewDedupStore()
	clk := fixedClock{now: time.Now().UTC()}
	g := New(store, failingBlobStore{err: errors.New("bucket unavailable")}, hasher, clk, nil)

	results := g.Reconcile(context.Background(), "webs-wa", []crawler.ExtractedRecord{
		record("2026-0142", crawler.Field{Name: "title", Value: "A"}),
		record("2026-0143", crawler.Field{Name: "title", Value: "B"}),
	})
	require.Len(t, results, 2, "one failed write must not drop later records")
	for _, res := range results {
		require.Error(t, res.WriteErr)
		var persistErr *crawler.PersistenceError
		require.ErrorAs(t, res.WriteErr, &persistErr)
		assert.Equal(t, "blob", persistErr.Op)
	}

	// Dedup state untouched: the blob write comes first, so a retried task
	// still sees the record as new.
	_, found, err := store.Lookup(context.Background(), "webs-wa", "2026-0142")
	require.NoError(t, err)
	assert.False(t, found)
}
