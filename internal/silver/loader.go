// Package silver implements the bronze→silver stage: consuming the change
// feed, resolving per-key conflicts, and merging typed rows into the
// staging table.
package silver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
	"github.com/preethamsamatham/medallion/internal/transform"
)

// Loader drives one silver load: poll the change feed, reduce the batch to
// one terminal operation per key, parse payloads, and apply the changeset
// with the checkpoint advance in the same transaction.
type Loader struct {
	feed         storage.ChangeFeed
	store        storage.SilverStore
	consumer     string
	sourceObject string
	batchSize    int
	nowFn        func() time.Time
}

// NewLoader creates a silver loader.
func NewLoader(feed storage.ChangeFeed, store storage.SilverStore, consumer, sourceObject string, batchSize int) *Loader {
	if feed == nil {
		panic("silver: change feed must not be nil")
	}
	if store == nil {
		panic("silver: silver store must not be nil")
	}
	return &Loader{
		feed:         feed,
		store:        store,
		consumer:     consumer,
		sourceObject: sourceObject,
		batchSize:    batchSize,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// LoadResult summarizes one silver batch.
type LoadResult struct {
	EventsConsumed int
	RowsAffected   int64
	Skipped        int
	FromCursor     int64
	ToCursor       int64
}

// LoadBatch consumes one batch of change events. An empty feed returns a
// zero result and no error. A checkpoint conflict (another consumer moved
// the cursor) is returned as storage.ErrCheckpointConflict; the caller
// simply re-polls on the next tick.
func (l *Loader) LoadBatch(ctx context.Context, runID string) (LoadResult, error) {
	events, cursor, err := l.feed.Poll(ctx, l.consumer, l.batchSize)
	if err != nil {
		return LoadResult{}, fmt.Errorf("poll change feed: %w", err)
	}
	if len(events) == 0 {
		return LoadResult{FromCursor: cursor, ToCursor: cursor}, nil
	}

	batch, skipped := l.buildChangeset(events, runID, cursor)

	rows, err := l.store.ApplyChangeset(ctx, batch)
	if err != nil {
		if errors.Is(err, storage.ErrCheckpointConflict) {
			return LoadResult{FromCursor: cursor}, err
		}
		return LoadResult{}, fmt.Errorf("apply changeset: %w", err)
	}

	return LoadResult{
		EventsConsumed: len(events),
		RowsAffected:   rows,
		Skipped:        skipped,
		FromCursor:     batch.FromCursor,
		ToCursor:       batch.ToCursor,
	}, nil
}

// buildChangeset reduces an ordered event batch to its terminal operation
// per key, then parses the surviving after-images into staged candidates.
// Replayed or redundant events collapse here — INSERT then UPDATE then
// DELETE of the same key nets out to a single delete.
func (l *Loader) buildChangeset(events []model.ChangeEvent, runID string, fromCursor int64) (storage.ChangesetBatch, int) {
	terminal := Reduce(events)

	batch := storage.ChangesetBatch{
		Consumer:   l.consumer,
		FromCursor: fromCursor,
		ToCursor:   events[len(events)-1].ChangeSeq,
	}

	skipped := skippedKeyless(events)
	if skipped > 0 {
		slog.Warn("[Silver] Skipped keyless change events", "count", skipped)
	}

	stagedAt := l.nowFn()
	for _, evt := range terminal {
		if evt.Action == model.ActionDelete {
			batch.Deletes = append(batch.Deletes, *evt.EmployeeNumber)
			continue
		}

		emp, err := transform.BuildStagedCandidate(evt, runID, l.sourceObject, stagedAt)
		if err != nil {
			// Malformed payloads degrade to a skip, never a batch abort.
			slog.Warn("[Silver] Skipping unparseable change event",
				"change_seq", evt.ChangeSeq,
				"error", err,
			)
			skipped++
			continue
		}
		batch.Upserts = append(batch.Upserts, emp)
	}

	return batch, skipped
}

// Reduce collapses an ordered event sequence to the last event per key.
// Keyless events are dropped — they can never satisfy the unique-key
// invariant of the staging table. The result preserves first-appearance
// order of keys so applies stay deterministic.
func Reduce(events []model.ChangeEvent) []model.ChangeEvent {
	lastByKey := make(map[int64]model.ChangeEvent)
	var order []int64

	for _, evt := range events {
		if evt.EmployeeNumber == nil {
			continue
		}
		key := *evt.EmployeeNumber
		if _, seen := lastByKey[key]; !seen {
			order = append(order, key)
		}
		lastByKey[key] = evt
	}

	out := make([]model.ChangeEvent, 0, len(order))
	for _, key := range order {
		out = append(out, lastByKey[key])
	}
	return out
}

func skippedKeyless(events []model.ChangeEvent) int {
	n := 0
	for _, evt := range events {
		if evt.EmployeeNumber == nil {
			n++
		}
	}
	return n
}
