package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/provider"
)

// Fingerprint derives the dedup identity of a record: an MD5 over its field
// names and normalized values (trimmed, case-folded) in sorted key order. The
// stored record keeps the original values; only identity is normalized.
// Parameters:
//   - record: normalized provider row.
//
// Returns:
//   - string: hex fingerprint, stable for identical content.
func Fingerprint(record provider.Record) string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(record[k]))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FoldResult reports the outcome of folding one iteration's records.
type FoldResult struct {
	Added      int
	Duplicates int
}

// Combiner merges per-iteration result sets into a session's deduplicated
// combined dataset, preserving first-seen ordering across iterations.
type Combiner struct {
	sessions SessionStore
	records  RecordStore
}

// NewCombiner creates a new Combiner.
// Parameters:
//   - sessions: session store for duplicate counters.
//   - records: combined-record store.
//
// Returns:
//   - *Combiner: initialized combiner.
func NewCombiner(sessions SessionStore, records RecordStore) *Combiner {
	return &Combiner{sessions: sessions, records: records}
}

// Fold merges an iteration's records into the session's combined set. First
// occurrence of a fingerprint is kept with its original field values; later
// occurrences increment the session's duplicates counter and are logged for
// audit rather than silently discarded. Folding the same records twice (a
// relaunch re-returning seen data) yields the same combined set size.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - iterationIndex: lineage of the incoming records.
//   - incoming: records in arrival order.
//
// Returns:
//   - *FoldResult: added and duplicate counts.
//   - error: non-nil if a store operation fails.
func (c *Combiner) Fold(ctx context.Context, sessionID string, iterationIndex int, incoming []provider.Record) (*FoldResult, error) {
	seen, err := c.records.Fingerprints(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing fingerprints: %w", err)
	}
	position, err := c.records.MaxPosition(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load max position: %w", err)
	}

	now := time.Now()
	result := &FoldResult{}
	batch := make([]domain.CombinedRecord, 0, len(incoming))

	for _, rec := range incoming {
		fp := Fingerprint(rec)
		if _, dup := seen[fp]; dup {
			result.Duplicates++
			logger.CtxDebug(ctx, "Duplicate record dropped: fingerprint=%s, iteration=%d", fp, iterationIndex)
			continue
		}
		seen[fp] = struct{}{}
		position++

		fields, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record fields: %w", err)
		}
		batch = append(batch, domain.CombinedRecord{
			SessionID:      sessionID,
			Fingerprint:    fp,
			Position:       position,
			IterationIndex: iterationIndex,
			Fields:         string(fields),
			FirstSeenAt:    now,
		})
	}
	result.Added = len(batch)

	if err := c.records.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist combined records: %w", err)
	}
	if err := c.sessions.AddCombineCounters(ctx, sessionID, result.Added, result.Duplicates); err != nil {
		return nil, fmt.Errorf("failed to update combine counters: %w", err)
	}

	if result.Duplicates > 0 {
		logger.With(logger.Fields{
			logger.FieldCount:     result.Duplicates,
			logger.FieldIteration: iterationIndex,
		}).Info(ctx, "Removed duplicate records during fold")
	}

	return result, nil
}
