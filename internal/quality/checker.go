// Package quality runs observational data-quality checks. Findings are
// data, not errors: every check execution appends one result row to the
// audit sink, and a nonzero issue count never halts the pipeline.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// CheckStore is the read-only probe surface the checker runs against.
// Implemented by the postgres quality adapter.
type CheckStore interface {
	CountNull(ctx context.Context, table, column string, sampleLimit int) (int64, json.RawMessage, error)
	CountOutOfRange(ctx context.Context, table string, columns []string, min, max int64, sampleLimit int) (int64, json.RawMessage, error)
}

// Checker executes all configured rules and persists one result per rule.
// Checks are read-only and safe to run concurrently with the pipeline.
type Checker struct {
	store       CheckStore
	audit       storage.AuditStore
	rules       []Rule
	sampleLimit int
	nowFn       func() time.Time
}

// NewChecker creates a quality checker over the given rules.
func NewChecker(store CheckStore, audit storage.AuditStore, rules []Rule, sampleLimit int) *Checker {
	if store == nil {
		panic("quality: check store must not be nil")
	}
	if audit == nil {
		panic("quality: audit store must not be nil")
	}
	if sampleLimit <= 0 {
		sampleLimit = 5
	}
	return &Checker{
		store:       store,
		audit:       audit,
		rules:       rules,
		sampleLimit: sampleLimit,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

// Summary totals one checker run.
type Summary struct {
	ChecksRun   int
	TotalIssues int64
}

// Run executes every rule concurrently. Only infrastructure failures (SQL
// errors, audit-sink write failures) produce an error; findings do not.
func (c *Checker) Run(ctx context.Context, runID string) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu      sync.Mutex
		summary Summary
	)

	for _, rule := range c.rules {
		rule := rule
		g.Go(func() error {
			result, err := c.execute(gctx, rule, runID)
			if err != nil {
				return fmt.Errorf("check %s: %w", rule.Name, err)
			}

			if err := c.audit.AppendQualityResult(gctx, result); err != nil {
				return fmt.Errorf("check %s: persist result: %w", rule.Name, err)
			}

			if result.IssueCount > 0 {
				slog.Warn("[Quality] Check found issues",
					"check", rule.Name,
					"layer", rule.Layer,
					"issue_count", result.IssueCount,
				)
			}

			mu.Lock()
			summary.ChecksRun++
			summary.TotalIssues += result.IssueCount
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Checker) execute(ctx context.Context, rule Rule, runID string) (model.QualityResult, error) {
	var (
		count  int64
		sample json.RawMessage
		err    error
	)

	switch rule.Kind {
	case KindNotNull:
		count, sample, err = c.store.CountNull(ctx, rule.Table, rule.Column, c.sampleLimit)
	case KindRange:
		count, sample, err = c.store.CountOutOfRange(ctx, rule.Table, rule.Columns, rule.Min, rule.Max, c.sampleLimit)
	default:
		err = fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
	if err != nil {
		return model.QualityResult{}, err
	}

	return model.QualityResult{
		CheckName:     rule.Name,
		Layer:         rule.Layer,
		TableName:     rule.Table,
		IssueCount:    count,
		SampleDetails: sample,
		EtlRunID:      runID,
		CheckedAt:     c.nowFn(),
	}, nil
}
