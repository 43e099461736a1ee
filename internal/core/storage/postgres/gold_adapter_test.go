package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGoldAdapter_ReplaceAggregates(t *testing.T) {
	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	demographics := []model.DepartmentDemographics{
		{
			Department:  "Engineering",
			Headcount:   12,
			AvgAge:      decimal.NullDecimal{Decimal: decimal.NewFromFloat(36.42), Valid: true},
			AvgTenure:   decimal.NullDecimal{},
			MaleCount:   7,
			FemaleCount: 4,
			OtherCount:  1,
			RefreshedAt: refreshedAt,
			EtlRunID:    "run-1",
		},
	}
	survey := []model.DepartmentSurveyScores{
		{
			Department:      "Engineering",
			NumResponses:    12,
			AvgSatisfaction: decimal.NullDecimal{Decimal: decimal.NewFromFloat(3.75), Valid: true},
			RefreshedAt:     refreshedAt,
			EtlRunID:        "run-1",
		},
	}

	t.Run("swaps both tables in one transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewGoldAdapter(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(queryDeleteAllDemographics)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(regexp.QuoteMeta(queryInsertDemographics)).
			WithArgs(
				"Engineering", int64(12), sqlmock.AnyArg(), nil,
				int64(7), int64(4), int64(1), refreshedAt, "run-1",
			).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(queryDeleteAllSurveyScores)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(regexp.QuoteMeta(queryInsertSurveyScores)).
			WithArgs(
				"Engineering", int64(12), sqlmock.AnyArg(), nil,
				nil, nil, nil, refreshedAt, "run-1",
			).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := adapter.ReplaceAggregates(context.Background(), demographics, survey)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back leaving the old snapshot", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewGoldAdapter(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(queryDeleteAllDemographics)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(regexp.QuoteMeta(queryInsertDemographics)).
			WillReturnError(context.DeadlineExceeded)
		mock.ExpectRollback()

		err := adapter.ReplaceAggregates(context.Background(), demographics, survey)
		require.Error(t, err)
		require.ErrorContains(t, err, "insert demographics")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGoldAdapter_QueryDemographics(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewGoldAdapter(db)

	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryDemographics)).
		WithArgs("Engineering").
		WillReturnRows(sqlmock.NewRows([]string{
			"department", "headcount", "avg_age", "avg_tenure",
			"male_count", "female_count", "other_count", "refreshed_at", "etl_run_id",
		}).AddRow(
			"Engineering", int64(12), "36.42", nil,
			int64(7), int64(4), int64(1), refreshedAt, "run-1",
		)).RowsWillBeClosed()

	results, err := adapter.QueryDemographics(context.Background(), "Engineering")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Engineering", results[0].Department)
	require.Equal(t, int64(12), results[0].Headcount)
	require.True(t, results[0].AvgAge.Valid)
	require.Equal(t, "36.42", results[0].AvgAge.Decimal.String())
	require.False(t, results[0].AvgTenure.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGoldAdapter_QuerySurveyScores(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewGoldAdapter(db)

	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(querySurveyScores)).
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{
			"department", "num_responses", "avg_satisfaction", "avg_work_life_balance",
			"avg_career_growth", "avg_communication", "avg_teamwork", "refreshed_at", "etl_run_id",
		}).AddRow(
			"Engineering", int64(12), "3.75", nil, nil, nil, nil, refreshedAt, "run-1",
		).AddRow(
			"Sales", int64(5), nil, nil, nil, nil, nil, refreshedAt, "run-1",
		)).RowsWillBeClosed()

	results, err := adapter.QuerySurveyScores(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].AvgSatisfaction.Valid)
	require.Equal(t, "3.75", results[0].AvgSatisfaction.Decimal.String())
	require.False(t, results[1].AvgSatisfaction.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGoldAdapter_LastRefreshedAt(t *testing.T) {
	t.Run("epoch sentinel means never refreshed", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewGoldAdapter(db)

		mock.ExpectQuery(regexp.QuoteMeta(queryLastRefreshedAt)).
			WillReturnRows(sqlmock.NewRows([]string{"greatest"}).AddRow(time.Unix(0, 0).UTC()))

		refreshed, err := adapter.LastRefreshedAt(context.Background())
		require.NoError(t, err)
		require.True(t, refreshed.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns the newest refresh stamp", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewGoldAdapter(db)

		refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(queryLastRefreshedAt)).
			WillReturnRows(sqlmock.NewRows([]string{"greatest"}).AddRow(refreshedAt))

		refreshed, err := adapter.LastRefreshedAt(context.Background())
		require.NoError(t, err)
		require.Equal(t, refreshedAt, refreshed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
