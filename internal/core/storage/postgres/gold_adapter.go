package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

// GoldAdapter implements storage.GoldStore using PostgreSQL.
// Both aggregate tables are replaced wholesale inside one transaction, so a
// concurrent reader sees either the fully-old or fully-new snapshot. A
// failed rebuild rolls back and leaves the previous snapshot intact.
type GoldAdapter struct {
	db *sql.DB
}

// NewGoldAdapter creates a gold adapter sharing the given connection.
func NewGoldAdapter(db *sql.DB) *GoldAdapter {
	return &GoldAdapter{db: db}
}

// ReplaceAggregates swaps in a freshly computed aggregate snapshot.
func (a *GoldAdapter) ReplaceAggregates(
	ctx context.Context,
	demographics []model.DepartmentDemographics,
	survey []model.DepartmentSurveyScores,
) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("gold replace: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryDeleteAllDemographics); err != nil {
		return fmt.Errorf("gold replace: clear demographics: %w", err)
	}
	for _, d := range demographics {
		if _, err := tx.ExecContext(ctx, queryInsertDemographics,
			d.Department,
			d.Headcount,
			d.AvgAge,
			d.AvgTenure,
			d.MaleCount,
			d.FemaleCount,
			d.OtherCount,
			d.RefreshedAt,
			d.EtlRunID,
		); err != nil {
			return fmt.Errorf("gold replace: insert demographics %q: %w", d.Department, err)
		}
	}

	if _, err := tx.ExecContext(ctx, queryDeleteAllSurveyScores); err != nil {
		return fmt.Errorf("gold replace: clear survey scores: %w", err)
	}
	for _, s := range survey {
		if _, err := tx.ExecContext(ctx, queryInsertSurveyScores,
			s.Department,
			s.NumResponses,
			s.AvgSatisfaction,
			s.AvgWorkLifeBalance,
			s.AvgCareerGrowth,
			s.AvgCommunication,
			s.AvgTeamwork,
			s.RefreshedAt,
			s.EtlRunID,
		); err != nil {
			return fmt.Errorf("gold replace: insert survey scores %q: %w", s.Department, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("gold replace: commit: %w", err)
	}

	slog.Info("[Gold] Aggregate snapshot replaced",
		"demographics_rows", len(demographics),
		"survey_rows", len(survey),
	)
	return nil
}

// QueryDemographics returns demographic aggregates, optionally filtered to
// one department (empty string means all).
func (a *GoldAdapter) QueryDemographics(ctx context.Context, department string) ([]model.DepartmentDemographics, error) {
	rows, err := a.db.QueryContext(ctx, queryDemographics, department)
	if err != nil {
		return nil, fmt.Errorf("query demographics: %w", err)
	}
	defer rows.Close()

	var results []model.DepartmentDemographics
	for rows.Next() {
		var d model.DepartmentDemographics
		if err := rows.Scan(
			&d.Department,
			&d.Headcount,
			&d.AvgAge,
			&d.AvgTenure,
			&d.MaleCount,
			&d.FemaleCount,
			&d.OtherCount,
			&d.RefreshedAt,
			&d.EtlRunID,
		); err != nil {
			return nil, fmt.Errorf("query demographics: scan row: %w", err)
		}
		results = append(results, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query demographics: iterate rows: %w", err)
	}
	return results, nil
}

// QuerySurveyScores returns survey-score aggregates, optionally filtered to
// one department (empty string means all).
func (a *GoldAdapter) QuerySurveyScores(ctx context.Context, department string) ([]model.DepartmentSurveyScores, error) {
	rows, err := a.db.QueryContext(ctx, querySurveyScores, department)
	if err != nil {
		return nil, fmt.Errorf("query survey scores: %w", err)
	}
	defer rows.Close()

	var results []model.DepartmentSurveyScores
	for rows.Next() {
		var s model.DepartmentSurveyScores
		if err := rows.Scan(
			&s.Department,
			&s.NumResponses,
			&s.AvgSatisfaction,
			&s.AvgWorkLifeBalance,
			&s.AvgCareerGrowth,
			&s.AvgCommunication,
			&s.AvgTeamwork,
			&s.RefreshedAt,
			&s.EtlRunID,
		); err != nil {
			return nil, fmt.Errorf("query survey scores: scan row: %w", err)
		}
		results = append(results, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query survey scores: iterate rows: %w", err)
	}
	return results, nil
}

// LastRefreshedAt returns the newest refreshed_at across both aggregate
// tables; the zero time when no rebuild has happened yet.
func (a *GoldAdapter) LastRefreshedAt(ctx context.Context) (time.Time, error) {
	var refreshed sql.NullTime
	err := a.db.QueryRowContext(ctx, queryLastRefreshedAt).Scan(&refreshed)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last refreshed: %w", err)
	}
	if !refreshed.Valid || refreshed.Time.Unix() == 0 {
		return time.Time{}, nil
	}
	return refreshed.Time, nil
}
