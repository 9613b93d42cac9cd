// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/govscout/crawlworker/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DedupStoreConfig controls the Postgres connection pool for dedup state.
type DedupStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DedupStore persists per-natural-key fingerprints in Postgres using a
// conditional upsert, which is what makes retried tasks idempotent.
type DedupStore struct {
	pool  querier
	table string
}

// NewDedupStore creates a Postgres-backed DedupStore from config.
func NewDedupStore(ctx context.Context, cfg DedupStoreConfig) (*DedupStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "dedup_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DedupStore{pool: pool, table: table}, nil
}

// NewDedupStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewDedupStoreWithPool(pool querier, table string) (*DedupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "dedup_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DedupStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *DedupStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Lookup fetches the last-known state for a natural key.
func (s *DedupStore) Lookup(ctx context.Context, targetID, naturalKey string) (crawler.DedupState, bool, error) {
	query := fmt.Sprintf(`
SELECT fingerprint, blob_uri, updated_at
FROM %s
WHERE target_id = $1 AND natural_key = $2`, s.table)

	state := crawler.DedupState{TargetID: targetID, NaturalKey: naturalKey}
	err := s.pool.QueryRow(ctx, query, targetID, naturalKey).
		Scan(&state.Fingerprint, &state.BlobURI, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.DedupState{}, false, nil
	}
	if err != nil {
		return crawler.DedupState{}, false, fmt.Errorf("lookup dedup state: %w", err)
	}
	return state, true, nil
}

// CompareAndSwap writes the state only if the stored fingerprint still
// matches priorFingerprint. With an empty priorFingerprint the write is an
// insert that loses to any concurrent insert. Zero affected rows means the
// stored state moved since lookup.
func (s *DedupStore) CompareAndSwap(ctx context.Context, state crawler.DedupState, priorFingerprint string) error {
	var (
		query string
		args  []any
	)
	if priorFingerprint == "" {
		query = fmt.Sprintf(`
INSERT INTO %s (target_id, natural_key, fingerprint, blob_uri, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (target_id, natural_key) DO NOTHING`, s.table)
		args = []any{state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt}
	} else {
		query = fmt.Sprintf(`
INSERT INTO %s AS d (target_id, natural_key, fingerprint, blob_uri, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (target_id, natural_key) DO UPDATE
SET fingerprint = EXCLUDED.fingerprint,
    blob_uri = EXCLUDED.blob_uri,
    updated_at = EXCLUDED.updated_at
WHERE d.fingerprint = $6`, s.table)
		args = []any{state.TargetID, state.NaturalKey, state.Fingerprint, state.BlobURI, state.UpdatedAt, priorFingerprint}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("swap dedup state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrFingerprintConflict
	}
	return nil
}
