package storage

import (
	"context"
	"errors"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

// ErrCheckpointConflict is returned when a checkpoint advance loses a
// compare-and-swap race: another consumer already moved the cursor past the
// batch being applied. The losing batch must be discarded and re-polled.
var ErrCheckpointConflict = errors.New("checkpoint advanced concurrently")

// BronzeStore is the ingestion boundary: raw rows plus their change-log
// entries, written in one transaction so the feed sees commit order.
type BronzeStore interface {
	// LoadBatch writes raw records and appends one change event per record.
	// INSERT vs UPDATE is classified by key existence in bronze; keyless
	// rows are stored (and logged as inserts) — quality checks observe them.
	LoadBatch(ctx context.Context, records []model.RawEmployee) (inserted, updated int64, err error)

	// DeleteByKey removes all bronze rows for a key and appends a DELETE
	// change event. Returns the number of rows removed (0 is not an error).
	DeleteByKey(ctx context.Context, employeeNumber int64) (int64, error)
}

// ChangeFeed exposes row-level deltas on the bronze table since a consumer's
// checkpoint. Polling without advancing the checkpoint is at-least-once;
// once the checkpoint advances past a batch the events are never redelivered.
type ChangeFeed interface {
	// Poll returns events with change_seq > checkpoint(consumer), in strict
	// change_seq order, up to limit. The returned cursor is the checkpoint
	// the batch was read against (the CAS "from" value for the apply).
	Poll(ctx context.Context, consumer string, limit int) ([]model.ChangeEvent, int64, error)

	// HasPendingChanges is a cheap probe for scheduling decisions.
	HasPendingChanges(ctx context.Context, consumer string) (bool, error)

	// ReadCheckpoint returns the consumer's cursor; 0 when none exists yet.
	ReadCheckpoint(ctx context.Context, consumer string) (int64, error)
}

// ChangesetBatch is one unit of silver work: the mutations derived from a
// polled change batch plus the checkpoint movement that commits it.
type ChangesetBatch struct {
	Consumer   string
	FromCursor int64
	ToCursor   int64

	// Upserts are applied insert-or-update by employee_number; Deletes are
	// key removals (no-ops when absent). Both are idempotent by key.
	Upserts []model.StagedEmployee
	Deletes []int64
}

// SilverStore owns the mutable staging table.
type SilverStore interface {
	// ApplyChangeset applies all mutations and advances the checkpoint
	// from FromCursor to ToCursor in a single transaction. Returns
	// ErrCheckpointConflict (and applies nothing) when the CAS fails.
	ApplyChangeset(ctx context.Context, batch ChangesetBatch) (rowsAffected int64, err error)

	// LoadStagedSnapshot returns the full current staging table state.
	LoadStagedSnapshot(ctx context.Context) ([]model.StagedEmployee, error)
}

// GoldStore owns the derived aggregate tables. Both tables are replaced
// wholesale in one transaction — readers see the old snapshot or the new
// one, never a mix.
type GoldStore interface {
	ReplaceAggregates(
		ctx context.Context,
		demographics []model.DepartmentDemographics,
		survey []model.DepartmentSurveyScores,
	) error

	QueryDemographics(ctx context.Context, department string) ([]model.DepartmentDemographics, error)
	QuerySurveyScores(ctx context.Context, department string) ([]model.DepartmentSurveyScores, error)

	// LastRefreshedAt returns the newest refreshed_at across both aggregate
	// tables, or the zero time when no rebuild has happened yet. Drives the
	// target-lag freshness decision.
	LastRefreshedAt(ctx context.Context) (time.Time, error)
}

// AuditStore is the append-only sink for run logs and quality results.
type AuditStore interface {
	AppendRunLog(ctx context.Context, entry model.RunLogEntry) error
	AppendQualityResult(ctx context.Context, result model.QualityResult) error

	// RunLogEntries returns all log rows for one run_id, oldest first.
	RunLogEntries(ctx context.Context, runID string) ([]model.RunLogEntry, error)

	// LatestQualityResults returns the most recent result per check name.
	LatestQualityResults(ctx context.Context) ([]model.QualityResult, error)
}
