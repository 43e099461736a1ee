package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/stretchr/testify/require"
)

func rawFixture(key *int64) model.RawEmployee {
	age := int64(29)
	return model.RawEmployee{
		EmployeeNumber:   key,
		FirstName:        "Mary",
		LastName:         "Jackson",
		Gender:           "Female",
		Age:              &age,
		Department:       "Engineering",
		Position:         "Engineer",
		EngagementSurvey: json.RawMessage(`{"satisfaction": 4}`),
		SourceFile:       "extract_2026_03.csv",
	}
}

func expectRawInsert(mock sqlmock.Sqlmock, key interface{}) {
	mock.ExpectExec(regexp.QuoteMeta(queryInsertRawEmployee)).
		WithArgs(
			key, "Mary", "Jackson", "Female", int64(29),
			"Engineering", "Engineer", nil, sqlmock.AnyArg(),
			[]byte(`{"satisfaction": 4}`), sqlmock.AnyArg(), "extract_2026_03.csv",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestBronzeAdapter_LoadBatch(t *testing.T) {
	t.Run("classifies by key existence not upstream flags", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewBronzeAdapter(db)

		newKey := int64(101)
		existingKey := int64(102)
		records := []model.RawEmployee{rawFixture(&newKey), rawFixture(&existingKey)}

		mock.ExpectBegin()

		// First record: unseen key, plain insert.
		mock.ExpectQuery(regexp.QuoteMeta(queryBronzeKeyExists)).
			WithArgs(newKey).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		expectRawInsert(mock, newKey)
		mock.ExpectExec(regexp.QuoteMeta(queryAppendChange)).
			WithArgs(newKey, "INSERT", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Second record: key already in bronze, whole-row replace.
		mock.ExpectQuery(regexp.QuoteMeta(queryBronzeKeyExists)).
			WithArgs(existingKey).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(regexp.QuoteMeta(queryDeleteRawEmployee)).
			WithArgs(existingKey).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectRawInsert(mock, existingKey)
		mock.ExpectExec(regexp.QuoteMeta(queryAppendChange)).
			WithArgs(existingKey, "UPDATE", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		inserted, updated, err := adapter.LoadBatch(context.Background(), records)
		require.NoError(t, err)
		require.Equal(t, int64(1), inserted)
		require.Equal(t, int64(1), updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keyless record lands without an existence check", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewBronzeAdapter(db)

		records := []model.RawEmployee{rawFixture(nil)}

		mock.ExpectBegin()
		expectRawInsert(mock, nil)
		mock.ExpectExec(regexp.QuoteMeta(queryAppendChange)).
			WithArgs(nil, "INSERT", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inserted, updated, err := adapter.LoadBatch(context.Background(), records)
		require.NoError(t, err)
		require.Equal(t, int64(1), inserted)
		require.Equal(t, int64(0), updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back the whole batch", func(t *testing.T) {
		db, mock := newMockDB(t)
		adapter := NewBronzeAdapter(db)

		key := int64(103)
		records := []model.RawEmployee{rawFixture(&key)}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryBronzeKeyExists)).
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta(queryInsertRawEmployee)).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, _, err := adapter.LoadBatch(context.Background(), records)
		require.Error(t, err)
		require.ErrorContains(t, err, "bronze load: insert row")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBronzeAdapter_DeleteByKey(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewBronzeAdapter(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteRawEmployee)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(queryAppendChange)).
		WithArgs(int64(7), "DELETE", false, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := adapter.DeleteByKey(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBronzeAdapter_DeleteByKey_AbsentKeyStillLogsChange(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewBronzeAdapter(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteRawEmployee)).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(queryAppendChange)).
		WithArgs(int64(99), "DELETE", false, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := adapter.DeleteByKey(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBronzeAdapter_Poll(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewBronzeAdapter(db)

	recordedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryReadCheckpoint)).
		WithArgs("silver_loader").
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta(queryPollChanges)).
		WithArgs(int64(5), 100).
		WillReturnRows(sqlmock.NewRows(changeRowColumns()).
			AddRow(int64(6), int64(1), "INSERT", false, []byte(`{"employee_number":1}`), recordedAt).
			AddRow(int64(7), nil, "INSERT", false, []byte(`{}`), recordedAt).
			AddRow(int64(8), int64(1), "DELETE", false, nil, recordedAt),
		).RowsWillBeClosed()

	events, cursor, err := adapter.Poll(context.Background(), "silver_loader", 100)
	require.NoError(t, err)
	require.Equal(t, int64(5), cursor)
	require.Len(t, events, 3)

	require.Equal(t, int64(6), events[0].ChangeSeq)
	require.Equal(t, model.ActionInsert, events[0].Action)
	require.NotNil(t, events[0].EmployeeNumber)
	require.Equal(t, int64(1), *events[0].EmployeeNumber)

	require.Nil(t, events[1].EmployeeNumber)

	require.Equal(t, model.ActionDelete, events[2].Action)
	require.Nil(t, events[2].Payload)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBronzeAdapter_ReadCheckpoint_MissingRowMeansZero(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewBronzeAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryReadCheckpoint)).
		WithArgs("silver_loader").
		WillReturnError(sql.ErrNoRows)

	cursor, err := adapter.ReadCheckpoint(context.Background(), "silver_loader")
	require.NoError(t, err)
	require.Equal(t, int64(0), cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBronzeAdapter_HasPendingChanges(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewBronzeAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryHasPendingChanges)).
		WithArgs("silver_loader").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	pending, err := adapter.HasPendingChanges(context.Background(), "silver_loader")
	require.NoError(t, err)
	require.True(t, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func changeRowColumns() []string {
	return []string{"change_seq", "employee_number", "action", "is_update", "payload", "recorded_at"}
}
