package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

// BronzeAdapter implements storage.BronzeStore and storage.ChangeFeed.
// Raw writes and their change-log appends share one transaction, so the
// change_seq order seen by consumers is bronze commit order.
type BronzeAdapter struct {
	db *sql.DB
}

// NewBronzeAdapter creates a bronze adapter sharing the given connection.
func NewBronzeAdapter(db *sql.DB) *BronzeAdapter {
	return &BronzeAdapter{db: db}
}

// LoadBatch writes raw records and appends one change event per record.
// INSERT vs UPDATE is classified by key existence in bronze. Keyless rows
// are stored and logged as inserts; the silver merge skips them and the
// null-key quality check surfaces them.
func (a *BronzeAdapter) LoadBatch(ctx context.Context, records []model.RawEmployee) (int64, int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("bronze load: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var inserted, updated int64

	for i := range records {
		rec := &records[i]
		if rec.LoadedAt.IsZero() {
			rec.LoadedAt = now
		}

		action := model.ActionInsert
		isUpdate := false

		if rec.EmployeeNumber != nil {
			var exists bool
			if err := tx.QueryRowContext(ctx, queryBronzeKeyExists, *rec.EmployeeNumber).Scan(&exists); err != nil {
				return 0, 0, fmt.Errorf("bronze load: check key %d: %w", *rec.EmployeeNumber, err)
			}
			if exists {
				// Whole-row replace: remove the stale extract before
				// inserting the fresh one.
				if _, err := tx.ExecContext(ctx, queryDeleteRawEmployee, *rec.EmployeeNumber); err != nil {
					return 0, 0, fmt.Errorf("bronze load: replace key %d: %w", *rec.EmployeeNumber, err)
				}
				action = model.ActionUpdate
				isUpdate = true
			}
		}

		var hireDate sql.NullTime
		if rec.HireDate != nil {
			hireDate = sql.NullTime{Time: rec.HireDate.Time, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, queryInsertRawEmployee,
			nullInt64(rec.EmployeeNumber),
			rec.FirstName,
			rec.LastName,
			rec.Gender,
			nullInt64(rec.Age),
			rec.Department,
			rec.Position,
			hireDate,
			rec.TenureYears,
			[]byte(rec.EngagementSurvey),
			rec.LoadedAt,
			rec.SourceFile,
		); err != nil {
			return 0, 0, fmt.Errorf("bronze load: insert row: %w", err)
		}

		payload, err := marshalChangePayload(rec)
		if err != nil {
			return 0, 0, fmt.Errorf("bronze load: %w", err)
		}

		if _, err := tx.ExecContext(ctx, queryAppendChange,
			nullInt64(rec.EmployeeNumber),
			string(action),
			isUpdate,
			payload,
			now,
		); err != nil {
			return 0, 0, fmt.Errorf("bronze load: append change: %w", err)
		}

		if isUpdate {
			updated++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("bronze load: commit: %w", err)
	}

	slog.Info("[Bronze] Batch loaded",
		"records", len(records),
		"inserted", inserted,
		"updated", updated,
	)
	return inserted, updated, nil
}

// DeleteByKey removes all bronze rows for a key and appends a DELETE change
// event. Zero rows removed is a no-op, not an error, and still produces a
// change event so downstream deletes are not lost on replayed loads.
func (a *BronzeAdapter) DeleteByKey(ctx context.Context, employeeNumber int64) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bronze delete: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, queryDeleteRawEmployee, employeeNumber)
	if err != nil {
		return 0, fmt.Errorf("bronze delete: key %d: %w", employeeNumber, err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bronze delete: rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryAppendChange,
		sql.NullInt64{Int64: employeeNumber, Valid: true},
		string(model.ActionDelete),
		false,
		nil,
		time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("bronze delete: append change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bronze delete: commit: %w", err)
	}

	slog.Info("[Bronze] Key deleted", "employee_number", employeeNumber, "rows_removed", removed)
	return removed, nil
}

// Poll returns change events past the consumer's checkpoint in strict
// change_seq order. The returned cursor is the checkpoint the batch was
// read against; the silver apply uses it as the CAS "from" value.
func (a *BronzeAdapter) Poll(ctx context.Context, consumer string, limit int) ([]model.ChangeEvent, int64, error) {
	cursor, err := a.ReadCheckpoint(ctx, consumer)
	if err != nil {
		return nil, 0, err
	}

	rows, err := a.db.QueryContext(ctx, queryPollChanges, cursor, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("poll changes: %w", err)
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		evt, err := scanChangeEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("poll changes: iterate rows: %w", err)
	}

	return events, cursor, nil
}

// HasPendingChanges is a cheap probe used by the scheduler: true when any
// change event exists past the consumer's checkpoint.
func (a *BronzeAdapter) HasPendingChanges(ctx context.Context, consumer string) (bool, error) {
	var pending bool
	if err := a.db.QueryRowContext(ctx, queryHasPendingChanges, consumer).Scan(&pending); err != nil {
		return false, fmt.Errorf("check pending changes: %w", err)
	}
	return pending, nil
}

// ReadCheckpoint returns the consumer's cursor; 0 when none exists yet
// (meaning "consume from the beginning").
func (a *BronzeAdapter) ReadCheckpoint(ctx context.Context, consumer string) (int64, error) {
	var cursor int64
	err := a.db.QueryRowContext(ctx, queryReadCheckpoint, consumer).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return cursor, nil
}
