package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

// AuditAdapter implements storage.AuditStore using PostgreSQL.
// Both sinks are append-only: rows are written once and never updated.
type AuditAdapter struct {
	db *sql.DB
}

// NewAuditAdapter creates an audit adapter sharing the given connection.
func NewAuditAdapter(db *sql.DB) *AuditAdapter {
	return &AuditAdapter{db: db}
}

// AppendRunLog writes one stage lifecycle record.
func (a *AuditAdapter) AppendRunLog(ctx context.Context, entry model.RunLogEntry) error {
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	if _, err := a.db.ExecContext(ctx, queryAppendRunLog,
		entry.RunID,
		entry.Stage,
		string(entry.Status),
		entry.RowsAffected,
		entry.Duration.Milliseconds(),
		entry.SourceObject,
		entry.TargetObject,
		entry.ErrorMessage,
		entry.LoggedAt,
	); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}

	slog.Debug("[Audit] Run log appended",
		"run_id", entry.RunID,
		"stage", entry.Stage,
		"status", entry.Status,
	)
	return nil
}

// AppendQualityResult writes one quality-check outcome.
func (a *AuditAdapter) AppendQualityResult(ctx context.Context, result model.QualityResult) error {
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now().UTC()
	}

	var sample []byte
	if len(result.SampleDetails) > 0 {
		sample = []byte(result.SampleDetails)
	}

	if _, err := a.db.ExecContext(ctx, queryAppendQualityResult,
		result.CheckName,
		result.Layer,
		result.TableName,
		result.IssueCount,
		sample,
		result.EtlRunID,
		result.CheckedAt,
	); err != nil {
		return fmt.Errorf("append quality result: %w", err)
	}

	slog.Debug("[Audit] Quality result appended",
		"check", result.CheckName,
		"issue_count", result.IssueCount,
	)
	return nil
}

// RunLogEntries returns all log rows for one run_id, oldest first.
func (a *AuditAdapter) RunLogEntries(ctx context.Context, runID string) ([]model.RunLogEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryRunLogEntries, runID)
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	var entries []model.RunLogEntry
	for rows.Next() {
		var (
			entry      model.RunLogEntry
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&entry.RunID,
			&entry.Stage,
			&status,
			&entry.RowsAffected,
			&durationMS,
			&entry.SourceObject,
			&entry.TargetObject,
			&entry.ErrorMessage,
			&entry.LoggedAt,
		); err != nil {
			return nil, fmt.Errorf("query run log: scan row: %w", err)
		}
		entry.Status = model.RunStatus(status)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query run log: iterate rows: %w", err)
	}
	return entries, nil
}

// LatestQualityResults returns the most recent result per check name —
// the monitoring view over the append-only sink.
func (a *AuditAdapter) LatestQualityResults(ctx context.Context) ([]model.QualityResult, error) {
	rows, err := a.db.QueryContext(ctx, queryLatestQualityResults)
	if err != nil {
		return nil, fmt.Errorf("query quality results: %w", err)
	}
	defer rows.Close()

	var results []model.QualityResult
	for rows.Next() {
		var (
			res    model.QualityResult
			sample []byte
		)
		if err := rows.Scan(
			&res.CheckName,
			&res.Layer,
			&res.TableName,
			&res.IssueCount,
			&sample,
			&res.EtlRunID,
			&res.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("query quality results: scan row: %w", err)
		}
		if len(sample) > 0 {
			res.SampleDetails = json.RawMessage(sample)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query quality results: iterate rows: %w", err)
	}
	return results, nil
}
