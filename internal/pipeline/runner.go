// Package pipeline sequences the silver and gold stages and exposes them as
// independently callable, idempotent operations. Every stage execution is
// bracketed by append-only run-log records sharing the caller's run_id.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
	"github.com/preethamsamatham/medallion/internal/gold"
	"github.com/preethamsamatham/medallion/internal/quality"
	"github.com/preethamsamatham/medallion/internal/silver"
)

// StagingLoader consumes one change-feed batch into the staging table.
type StagingLoader interface {
	LoadBatch(ctx context.Context, runID string) (silver.LoadResult, error)
}

// AggregateMaterializer rebuilds the gold aggregate snapshot.
type AggregateMaterializer interface {
	Rebuild(ctx context.Context, runID string) (gold.RebuildStats, error)
}

// QualityRunner executes all configured quality checks.
type QualityRunner interface {
	Run(ctx context.Context, runID string) (quality.Summary, error)
}

// StageResult is what every stage entry point returns: a machine-readable
// outcome plus a human-readable message. Message and Err always agree —
// a non-nil Err means Status is FAILED and Message carries the error detail.
type StageResult struct {
	RunID        string
	Stage        string
	Status       model.RunStatus
	RowsAffected int64
	Duration     time.Duration
	Message      string
	Err          error
}

// Runner executes pipeline stages, writing STARTED / SUCCESS / FAILED
// run-log records around each. Stage errors are logged AND returned — never
// swallowed from the caller's perspective.
type Runner struct {
	loader       StagingLoader
	materializer AggregateMaterializer
	checker      QualityRunner
	audit        storage.AuditStore
	sourceObject string
	nowFn        func() time.Time
}

// NewRunner creates a pipeline runner.
func NewRunner(
	loader StagingLoader,
	materializer AggregateMaterializer,
	checker QualityRunner,
	audit storage.AuditStore,
	sourceObject string,
) *Runner {
	if loader == nil {
		panic("pipeline: staging loader must not be nil")
	}
	if materializer == nil {
		panic("pipeline: materializer must not be nil")
	}
	if checker == nil {
		panic("pipeline: quality runner must not be nil")
	}
	if audit == nil {
		panic("pipeline: audit store must not be nil")
	}
	return &Runner{
		loader:       loader,
		materializer: materializer,
		checker:      checker,
		audit:        audit,
		sourceObject: sourceObject,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureRunID returns the caller's correlation id, or a fresh one when the
// caller didn't supply any.
func EnsureRunID(runID string) string {
	if runID != "" {
		return runID
	}
	return uuid.NewString()
}

// LoadStaging runs the bronze→silver stage: consume one change-feed batch
// and merge it into the staging table.
func (r *Runner) LoadStaging(ctx context.Context, runID string) StageResult {
	runID = EnsureRunID(runID)
	started := r.nowFn()

	if err := r.logStatus(ctx, runID, model.StageLoadStaging, model.StatusStarted, 0, 0, ""); err != nil {
		return r.fail(runID, model.StageLoadStaging, started, err)
	}

	result, err := r.loader.LoadBatch(ctx, runID)
	if err != nil {
		return r.fail(runID, model.StageLoadStaging, started, err)
	}

	duration := r.nowFn().Sub(started)
	msg := fmt.Sprintf("load_staging succeeded: %d change events consumed, %d rows affected, %d skipped",
		result.EventsConsumed, result.RowsAffected, result.Skipped)
	if result.EventsConsumed == 0 {
		msg = "load_staging succeeded: no new changes"
	}

	if err := r.logStatus(ctx, runID, model.StageLoadStaging, model.StatusSuccess, result.RowsAffected, duration, ""); err != nil {
		return r.fail(runID, model.StageLoadStaging, started, err)
	}

	return StageResult{
		RunID:        runID,
		Stage:        model.StageLoadStaging,
		Status:       model.StatusSuccess,
		RowsAffected: result.RowsAffected,
		Duration:     duration,
		Message:      msg,
	}
}

// MaterializeAggregates runs the silver→gold stage: full recompute of both
// aggregate tables from the current staging snapshot.
func (r *Runner) MaterializeAggregates(ctx context.Context, runID string) StageResult {
	runID = EnsureRunID(runID)
	started := r.nowFn()

	if err := r.logStatus(ctx, runID, model.StageMaterialize, model.StatusStarted, 0, 0, ""); err != nil {
		return r.fail(runID, model.StageMaterialize, started, err)
	}

	stats, err := r.materializer.Rebuild(ctx, runID)
	if err != nil {
		return r.fail(runID, model.StageMaterialize, started, err)
	}

	duration := r.nowFn().Sub(started)
	rows := int64(stats.Departments) * 2 // one row per department per aggregate table
	msg := fmt.Sprintf("materialize_aggregates succeeded: %d staged rows rolled up into %d departments",
		stats.StagedRows, stats.Departments)

	if err := r.logStatus(ctx, runID, model.StageMaterialize, model.StatusSuccess, rows, duration, ""); err != nil {
		return r.fail(runID, model.StageMaterialize, started, err)
	}

	return StageResult{
		RunID:        runID,
		Stage:        model.StageMaterialize,
		Status:       model.StatusSuccess,
		RowsAffected: rows,
		Duration:     duration,
		Message:      msg,
	}
}

// RunQualityChecks executes all configured checks. Findings are recorded,
// not raised: only infrastructure errors fail this stage.
func (r *Runner) RunQualityChecks(ctx context.Context, runID string) StageResult {
	runID = EnsureRunID(runID)
	started := r.nowFn()

	if err := r.logStatus(ctx, runID, model.StageQualityChecks, model.StatusStarted, 0, 0, ""); err != nil {
		return r.fail(runID, model.StageQualityChecks, started, err)
	}

	summary, err := r.checker.Run(ctx, runID)
	if err != nil {
		return r.fail(runID, model.StageQualityChecks, started, err)
	}

	duration := r.nowFn().Sub(started)
	msg := fmt.Sprintf("run_quality_checks succeeded: %d checks run, %d total issues found",
		summary.ChecksRun, summary.TotalIssues)

	if err := r.logStatus(ctx, runID, model.StageQualityChecks, model.StatusSuccess, int64(summary.ChecksRun), duration, ""); err != nil {
		return r.fail(runID, model.StageQualityChecks, started, err)
	}

	return StageResult{
		RunID:        runID,
		Stage:        model.StageQualityChecks,
		Status:       model.StatusSuccess,
		RowsAffected: int64(summary.ChecksRun),
		Duration:     duration,
		Message:      msg,
	}
}

// RunPipeline is the completion-chained run: gold executes strictly after
// silver succeeds. A silver failure means gold is not invoked at all — no
// log records for the gold stage appear under that run_id.
func (r *Runner) RunPipeline(ctx context.Context, runID string) []StageResult {
	runID = EnsureRunID(runID)

	silverResult := r.LoadStaging(ctx, runID)
	if silverResult.Err != nil {
		slog.Warn("[Pipeline] Silver stage failed, gold not invoked",
			"run_id", runID,
			"error", silverResult.Err,
		)
		return []StageResult{silverResult}
	}

	goldResult := r.MaterializeAggregates(ctx, runID)
	return []StageResult{silverResult, goldResult}
}

// fail converts a stage error into a FAILED result, writing the FAILED
// run-log record. The error is carried on the result, not swallowed.
func (r *Runner) fail(runID, stage string, started time.Time, stageErr error) StageResult {
	duration := r.nowFn().Sub(started)

	// Best-effort: the failure record itself may fail to persist (e.g. the
	// database is what broke). The structured log below still captures it.
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.logStatus(logCtx, runID, stage, model.StatusFailed, 0, duration, stageErr.Error()); err != nil {
		slog.Error("[Pipeline] Failed to persist failure record",
			"run_id", runID,
			"stage", stage,
			"error", err,
		)
	}

	slog.Error("[Pipeline] Stage failed",
		"run_id", runID,
		"stage", stage,
		"error", stageErr,
	)

	return StageResult{
		RunID:    runID,
		Stage:    stage,
		Status:   model.StatusFailed,
		Duration: duration,
		Message:  fmt.Sprintf("%s failed: %v", stage, stageErr),
		Err:      stageErr,
	}
}

func (r *Runner) logStatus(
	ctx context.Context,
	runID, stage string,
	status model.RunStatus,
	rows int64,
	duration time.Duration,
	errMsg string,
) error {
	entry := model.RunLogEntry{
		RunID:        runID,
		Stage:        stage,
		Status:       status,
		RowsAffected: rows,
		Duration:     duration,
		SourceObject: r.sourceFor(stage),
		TargetObject: targetFor(stage),
		ErrorMessage: errMsg,
		LoggedAt:     r.nowFn(),
	}
	if err := r.audit.AppendRunLog(ctx, entry); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

func (r *Runner) sourceFor(stage string) string {
	switch stage {
	case model.StageLoadStaging:
		return r.sourceObject
	case model.StageMaterialize:
		return "staged_employees"
	case model.StageQualityChecks:
		return "raw_employees,staged_employees"
	}
	return ""
}

func targetFor(stage string) string {
	switch stage {
	case model.StageLoadStaging:
		return "staged_employees"
	case model.StageMaterialize:
		return "dept_demographics,dept_survey_scores"
	case model.StageQualityChecks:
		return "data_quality_results"
	}
	return ""
}
