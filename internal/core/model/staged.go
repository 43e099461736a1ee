package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SurveyScores holds the five engagement scores parsed out of the
// semi-structured survey blob. Each is nil when the source field was
// missing, malformed, or non-numeric — a parse miss on one score never
// affects its siblings. Valid domain is 1–5 but the type does not enforce
// it; range validity is a quality-check concern, not a schema concern.
type SurveyScores struct {
	Satisfaction    *int64
	WorkLifeBalance *int64
	CareerGrowth    *int64
	Communication   *int64
	Teamwork        *int64
}

// StagedEmployee is one row of the silver layer. EmployeeNumber is unique —
// the merge enforces it by key, so replayed or out-of-order change events
// can never produce duplicates.
type StagedEmployee struct {
	EmployeeNumber int64

	FirstName   string
	LastName    string
	Gender      string
	Age         *int64
	Department  string
	Position    string
	HireDate    *time.Time
	TenureYears decimal.NullDecimal

	Scores SurveyScores

	// Merge stamps: when this row was last written, by which run, from
	// which source object.
	StagedAt     time.Time
	SourceObject string
	EtlRunID     string
}
