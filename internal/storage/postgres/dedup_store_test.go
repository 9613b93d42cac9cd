package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscout/crawlworker/internal/crawler"
)

func newMockStore(t *testing.T) (*DedupStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewDedupStoreWithPool(mock, "dedup_state")
	require.NoError(t, err)
	return store, mock
}

func testState() crawler.DedupState {
	return crawler.DedupState{
		TargetID:    "webs-wa",
		NaturalKey:  "2026-0142",
		Fingerprint: "fp-new",
		BlobURI:     "gs://records/webs-wa/2026-0142/fp-new.json",
		UpdatedAt:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestLookupFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT fingerprint, blob_uri, updated_at").
		WithArgs("webs-wa", "2026-0142").
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint", "blob_uri", "updated_at"}).
			AddRow("fp-old", "gs://records/old.json", updated))

	state, found, err := store.Lookup(context.Background(), "webs-wa", "2026-0142")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fp-old", state.Fingerprint)
	assert.Equal(t, "gs://records/old.json", state.BlobURI)
	assert.Equal(t, updated, state.UpdatedAt)
	assert.Equal(t, "webs-wa", state.TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT fingerprint, blob_uri, updated_at").
		WithArgs("webs-wa", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.Lookup(context.Background(), "webs-wa", "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapFirstSighting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	state := testState()
	mock.ExpectExec("INSERT INTO dedup_state").
		WithArgs(state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CompareAndSwap(context.Background(), state, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapFirstSightingLosesRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	state := testState()
	// ON CONFLICT DO NOTHING affected zero rows: someone inserted first.
	mock.ExpectExec("INSERT INTO dedup_state").
		WithArgs(state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.CompareAndSwap(context.Background(), state, "")
	assert.ErrorIs(t, err, crawler.ErrFingerprintConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapConditionalUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	state := testState()
	mock.ExpectExec("INSERT INTO dedup_state AS d").
		WithArgs(state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt, "fp-old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompareAndSwap(context.Background(), state, "fp-old"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapStaleFingerprint(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	state := testState()
	// The WHERE guard filtered the update: stored state moved since lookup.
	mock.ExpectExec("INSERT INTO dedup_state AS d").
		WithArgs(state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt, "fp-stale").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.CompareAndSwap(context.Background(), state, "fp-stale")
	assert.ErrorIs(t, err, crawler.ErrFingerprintConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDedupStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewDedupStoreWithPool(mock, "dedup_state; DROP TABLE crawls")
	require.Error(t, err)

	store, err := NewDedupStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "dedup_state", store.table)
}
