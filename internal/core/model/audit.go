package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state recorded for one stage execution.
type RunStatus string

const (
	StatusStarted RunStatus = "STARTED"
	StatusSuccess RunStatus = "SUCCESS"
	StatusFailed  RunStatus = "FAILED"
)

// Stage names as recorded in the run log. One logical pipeline run shares a
// run_id across stages so log rows can be correlated.
const (
	StageLoadStaging   = "load_staging"
	StageMaterialize   = "materialize_aggregates"
	StageQualityChecks = "run_quality_checks"
)

// RunLogEntry is one append-only pipeline audit record. Written once per
// stage start/success/failure; never updated or deleted.
type RunLogEntry struct {
	RunID        string
	Stage        string
	Status       RunStatus
	RowsAffected int64
	Duration     time.Duration
	SourceObject string
	TargetObject string
	ErrorMessage string
	LoggedAt     time.Time
}

// QualityResult is one append-only quality-check outcome. A nonzero
// IssueCount is a finding, not a failure — checks are observational and a
// monitoring query aggregates them over time.
type QualityResult struct {
	CheckName     string
	Layer         string
	TableName     string
	IssueCount    int64
	SampleDetails json.RawMessage
	EtlRunID      string
	CheckedAt     time.Time
}
