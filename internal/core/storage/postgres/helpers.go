package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// marshalChangePayload serializes the after-image carried on a change event.
// Nil records (deletes) produce nil, which lands as SQL NULL.
func marshalChangePayload(rec *model.RawEmployee) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change payload: %w", err)
	}
	return payload, nil
}

// scanChangeEvent scans one bronze_changes row.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanChangeEvent(row scanner) (model.ChangeEvent, error) {
	var (
		evt     model.ChangeEvent
		key     sql.NullInt64
		action  string
		payload []byte
	)

	if err := row.Scan(&evt.ChangeSeq, &key, &action, &evt.IsUpdate, &payload, &evt.RecordedAt); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to scan change event row: %w", err)
	}

	evt.EmployeeNumber = int64Ptr(key)
	evt.Action = model.ChangeAction(action)
	if len(payload) > 0 {
		evt.Payload = json.RawMessage(payload)
	}

	return evt, nil
}

// scanStagedEmployee scans one staged_employees row.
func scanStagedEmployee(row scanner) (model.StagedEmployee, error) {
	var (
		emp      model.StagedEmployee
		age      sql.NullInt64
		hireDate sql.NullTime
		scores   [5]sql.NullInt64
	)

	if err := row.Scan(
		&emp.EmployeeNumber,
		&emp.FirstName,
		&emp.LastName,
		&emp.Gender,
		&age,
		&emp.Department,
		&emp.Position,
		&hireDate,
		&emp.TenureYears,
		&scores[0],
		&scores[1],
		&scores[2],
		&scores[3],
		&scores[4],
		&emp.StagedAt,
		&emp.SourceObject,
		&emp.EtlRunID,
	); err != nil {
		return model.StagedEmployee{}, fmt.Errorf("failed to scan staged employee row: %w", err)
	}

	emp.Age = int64Ptr(age)
	emp.HireDate = timePtr(hireDate)
	emp.Scores = model.SurveyScores{
		Satisfaction:    int64Ptr(scores[0]),
		WorkLifeBalance: int64Ptr(scores[1]),
		CareerGrowth:    int64Ptr(scores[2]),
		Communication:   int64Ptr(scores[3]),
		Teamwork:        int64Ptr(scores[4]),
	}

	return emp, nil
}
