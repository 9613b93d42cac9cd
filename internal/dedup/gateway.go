// Package dedup classifies extracted records against persisted fingerprints
// and performs the idempotent writes that make at-least-once task delivery
// safe.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
)

// Gateway reconciles record batches against the dedup store.
type Gateway struct {
	store  crawler.DedupStore
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Gateway.
func New(store crawler.DedupStore, blobs crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:  store,
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Reconcile fingerprints each record, classifies it as New, Changed, or
// Unchanged, and durably writes New and Changed records. Records are
// processed in extraction order. A single record's write failure does not
// abort the batch; it is reported per-record and the orchestrator decides
// task-level status from the aggregate.
func (g *Gateway) Reconcile(ctx context.Context, targetID string, records []crawler.ExtractedRecord) []crawler.ReconcileResult {
	results := make([]crawler.ReconcileResult, 0, len(records))
	for i := range records {
		record := records[i]
		record.Fingerprint = g.hasher.Fingerprint(record.Fields)
		record.ExtractedAt = g.clock.Now()
		results = append(results, g.reconcileOne(ctx, targetID, record))
	}
	return results
}

func (g *Gateway) reconcileOne(ctx context.Context, targetID string, record crawler.ExtractedRecord) crawler.ReconcileResult {
	prior, found, err := g.store.Lookup(ctx, targetID, record.NaturalKey)
	if err != nil {
		return crawler.ReconcileResult{
			Record:         record,
			Classification: crawler.ClassificationNew,
			WriteErr: &crawler.PersistenceError{
				NaturalKey: record.NaturalKey,
				Op:         "lookup",
				Err:        err,
			},
		}
	}

	switch {
	case found && prior.Fingerprint == record.Fingerprint:
		// Same content seen again, possibly a redelivered task. No write.
		return crawler.ReconcileResult{
			Record:         record,
			Classification: crawler.ClassificationUnchanged,
		}
	case found:
		return g.write(ctx, targetID, record, crawler.ClassificationChanged, prior.Fingerprint)
	default:
		return g.write(ctx, targetID, record, crawler.ClassificationNew, "")
	}
}

// write pushes the raw payload to the blob store and conditionally swaps the
// dedup state. The swap is keyed on the fingerprint observed at lookup time:
// a concurrent writer that landed identical content makes this a no-op
// (reported Unchanged), while a concurrent writer with different content
// surfaces a conflict so the task re-derives against fresh state.
func (g *Gateway) write(
	ctx context.Context,
	targetID string,
	record crawler.ExtractedRecord,
	class crawler.Classification,
	priorFingerprint string,
) crawler.ReconcileResult {
	uri, err := g.putPayload(ctx, targetID, record)
	if err != nil {
		return crawler.ReconcileResult{
			Record:         record,
			Classification: class,
			WriteErr: &crawler.PersistenceError{
				NaturalKey: record.NaturalKey,
				Op:         "blob",
				Err:        err,
			},
		}
	}

	state := crawler.DedupState{
		TargetID:    targetID,
		NaturalKey:  record.NaturalKey,
		Fingerprint: record.Fingerprint,
		BlobURI:     uri,
		UpdatedAt:   record.ExtractedAt,
	}
	if err := g.store.CompareAndSwap(ctx, state, priorFingerprint); err != nil {
		if errors.Is(err, crawler.ErrFingerprintConflict) {
			current, found, lookupErr := g.store.Lookup(ctx, targetID, record.NaturalKey)
			if lookupErr == nil && found && current.Fingerprint == record.Fingerprint {
				// Lost the race to identical content. Not a second
				// Changed event.
				return crawler.ReconcileResult{
					Record:         record,
					Classification: crawler.ClassificationUnchanged,
				}
			}
			g.logger.Warn("dedup state raced with divergent content",
				zap.String("target", targetID),
				zap.String("natural_key", record.NaturalKey),
			)
		}
		return crawler.ReconcileResult{
			Record:         record,
			Classification: class,
			WriteErr: &crawler.PersistenceError{
				NaturalKey: record.NaturalKey,
				Op:         "swap",
				Err:        err,
			},
		}
	}

	return crawler.ReconcileResult{Record: record, Classification: class}
}

func (g *Gateway) putPayload(ctx context.Context, targetID string, record crawler.ExtractedRecord) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	path := fmt.Sprintf("%s/%s/%s.json", targetID, record.NaturalKey, record.Fingerprint)
	return g.blobs.PutObject(ctx, path, "application/json", payload)
}
