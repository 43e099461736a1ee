package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
)

const querySelectCheckpointForUpdate = `
	SELECT cursor
	FROM feed_checkpoints
	WHERE consumer = $1
	FOR UPDATE
`

// SilverAdapter implements storage.SilverStore using PostgreSQL.
// Changeset apply and checkpoint advance are one transaction — the
// atomicity contract that makes crash recovery safe: a crash before commit
// leaves the checkpoint untouched and the batch is re-polled and re-applied
// (idempotent by key).
type SilverAdapter struct {
	db *sql.DB
}

// NewSilverAdapter creates a silver adapter sharing the given connection.
func NewSilverAdapter(db *sql.DB) *SilverAdapter {
	return &SilverAdapter{db: db}
}

// ApplyChangeset applies deletes then upserts, then advances the consumer
// checkpoint from FromCursor to ToCursor. The checkpoint row is locked
// first; a cursor that no longer matches FromCursor means another consumer
// advanced past this batch, and the whole transaction rolls back with
// storage.ErrCheckpointConflict.
func (a *SilverAdapter) ApplyChangeset(ctx context.Context, batch storage.ChangesetBatch) (int64, error) {
	if batch.ToCursor < batch.FromCursor {
		return 0, fmt.Errorf("silver apply: cursor moving backwards (%d -> %d)", batch.FromCursor, batch.ToCursor)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("silver apply: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock the checkpoint row; create it on first consumption.
	var durableCursor int64
	err = tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, batch.Consumer).Scan(&durableCursor)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, queryInitCheckpointRow, batch.Consumer, time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("silver apply: init checkpoint row: %w", err)
		}
		err = tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, batch.Consumer).Scan(&durableCursor)
	}
	if err != nil {
		return 0, fmt.Errorf("silver apply: read checkpoint for update: %w", err)
	}

	if durableCursor != batch.FromCursor {
		slog.Warn("[Silver] Checkpoint moved since poll, discarding batch",
			"consumer", batch.Consumer,
			"polled_cursor", batch.FromCursor,
			"durable_cursor", durableCursor,
		)
		return 0, storage.ErrCheckpointConflict
	}

	var rowsAffected int64

	for _, key := range batch.Deletes {
		result, err := tx.ExecContext(ctx, queryDeleteStagedEmployee, key)
		if err != nil {
			return 0, fmt.Errorf("silver apply: delete key %d: %w", key, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("silver apply: rows affected: %w", err)
		}
		// Absent key is a valid no-op (replay, or delete of a never-staged row).
		rowsAffected += n
	}

	if len(batch.Upserts) > 0 {
		upsertStmt, err := tx.PrepareContext(ctx, queryUpsertStagedEmployee)
		if err != nil {
			return 0, fmt.Errorf("silver apply: prepare upsert: %w", err)
		}
		defer upsertStmt.Close()

		for _, emp := range batch.Upserts {
			if _, err := upsertStmt.ExecContext(ctx,
				emp.EmployeeNumber,
				emp.FirstName,
				emp.LastName,
				emp.Gender,
				nullInt64(emp.Age),
				emp.Department,
				emp.Position,
				nullTime(emp.HireDate),
				emp.TenureYears,
				nullInt64(emp.Scores.Satisfaction),
				nullInt64(emp.Scores.WorkLifeBalance),
				nullInt64(emp.Scores.CareerGrowth),
				nullInt64(emp.Scores.Communication),
				nullInt64(emp.Scores.Teamwork),
				emp.StagedAt,
				emp.SourceObject,
				emp.EtlRunID,
			); err != nil {
				return 0, fmt.Errorf("silver apply: upsert key %d: %w", emp.EmployeeNumber, err)
			}
			rowsAffected++
		}
	}

	// Advance the checkpoint — same transaction as the mutations.
	result, err := tx.ExecContext(ctx, queryAdvanceCheckpoint,
		batch.ToCursor, time.Now().UTC(), batch.Consumer, batch.FromCursor)
	if err != nil {
		return 0, fmt.Errorf("silver apply: advance checkpoint: %w", err)
	}
	advanced, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("silver apply: check checkpoint write: %w", err)
	}
	if advanced == 0 {
		// Row is locked, so this means the CAS predicate failed.
		return 0, storage.ErrCheckpointConflict
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("silver apply: commit: %w", err)
	}

	slog.Info("[Silver] Changeset applied",
		"consumer", batch.Consumer,
		"upserts", len(batch.Upserts),
		"deletes", len(batch.Deletes),
		"rows_affected", rowsAffected,
		"cursor_advanced", fmt.Sprintf("%d -> %d", batch.FromCursor, batch.ToCursor),
	)
	return rowsAffected, nil
}

// LoadStagedSnapshot returns the full current staging table state, ordered
// by key. Input to the gold rebuild.
func (a *SilverAdapter) LoadStagedSnapshot(ctx context.Context) ([]model.StagedEmployee, error) {
	rows, err := a.db.QueryContext(ctx, queryLoadStagedSnapshot)
	if err != nil {
		return nil, fmt.Errorf("load staged snapshot: %w", err)
	}
	defer rows.Close()

	var employees []model.StagedEmployee
	for rows.Next() {
		emp, err := scanStagedEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load staged snapshot: iterate rows: %w", err)
	}

	return employees, nil
}
