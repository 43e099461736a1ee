// Package gold materializes the department-level aggregates from the
// current silver snapshot. Rebuilds are full recomputes swapped in
// atomically — a pull-based cache refreshed on demand or on a staleness
// bound, not a live view.
package gold

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
	"github.com/shopspring/decimal"
)

// averagePrecision is the decimal places kept on computed averages.
const averagePrecision = 2

// Materializer computes both aggregate variants from the silver snapshot
// and replaces the gold tables in one transaction.
type Materializer struct {
	silver storage.SilverStore
	store  storage.GoldStore
	nowFn  func() time.Time
}

// NewMaterializer creates a gold materializer.
func NewMaterializer(silver storage.SilverStore, store storage.GoldStore) *Materializer {
	if silver == nil {
		panic("gold: silver store must not be nil")
	}
	if store == nil {
		panic("gold: gold store must not be nil")
	}
	return &Materializer{
		silver: silver,
		store:  store,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RebuildStats summarizes one materialization cycle.
type RebuildStats struct {
	StagedRows  int
	Departments int
}

// Rebuild recomputes both aggregate sets from the full current silver
// snapshot and swaps them in atomically. A failure leaves the previous
// snapshot intact.
func (m *Materializer) Rebuild(ctx context.Context, runID string) (RebuildStats, error) {
	staged, err := m.silver.LoadStagedSnapshot(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("load staged snapshot: %w", err)
	}

	refreshedAt := m.nowFn()
	demographics := ComputeDemographics(staged, refreshedAt, runID)
	survey := ComputeSurveyScores(staged, refreshedAt, runID)

	if err := m.store.ReplaceAggregates(ctx, demographics, survey); err != nil {
		return RebuildStats{}, fmt.Errorf("replace aggregates: %w", err)
	}

	slog.Info("[Gold] Rebuild complete",
		"staged_rows", len(staged),
		"departments", len(demographics),
	)
	return RebuildStats{StagedRows: len(staged), Departments: len(demographics)}, nil
}

// ComputeDemographics produces one row per distinct department: headcount,
// average age and tenure, and gender buckets. Gender matching is
// case-insensitive; anything that is not "male" or "female" buckets into
// other.
func ComputeDemographics(staged []model.StagedEmployee, refreshedAt time.Time, runID string) []model.DepartmentDemographics {
	type accumulator struct {
		headcount   int64
		ageSum      decimal.Decimal
		ageCount    int64
		tenureSum   decimal.Decimal
		tenureCount int64
		male        int64
		female      int64
		other       int64
	}

	byDept := make(map[string]*accumulator)
	for _, emp := range staged {
		acc, ok := byDept[emp.Department]
		if !ok {
			acc = &accumulator{}
			byDept[emp.Department] = acc
		}

		acc.headcount++
		if emp.Age != nil {
			acc.ageSum = acc.ageSum.Add(decimal.NewFromInt(*emp.Age))
			acc.ageCount++
		}
		if emp.TenureYears.Valid {
			acc.tenureSum = acc.tenureSum.Add(emp.TenureYears.Decimal)
			acc.tenureCount++
		}

		switch strings.ToLower(strings.TrimSpace(emp.Gender)) {
		case "male":
			acc.male++
		case "female":
			acc.female++
		default:
			acc.other++
		}
	}

	out := make([]model.DepartmentDemographics, 0, len(byDept))
	for dept, acc := range byDept {
		out = append(out, model.DepartmentDemographics{
			Department:  dept,
			Headcount:   acc.headcount,
			AvgAge:      safeAverage(acc.ageSum, acc.ageCount),
			AvgTenure:   safeAverage(acc.tenureSum, acc.tenureCount),
			MaleCount:   acc.male,
			FemaleCount: acc.female,
			OtherCount:  acc.other,
			RefreshedAt: refreshedAt,
			EtlRunID:    runID,
		})
	}
	sortDemographics(out)
	return out
}

// ComputeSurveyScores produces one row per distinct department with the
// average of each score. A score of 0 or NULL is "no response": excluded
// from both numerator and denominator of its average, never counted as 0.
// NumResponses is the department's total row count regardless of which
// scores are populated.
func ComputeSurveyScores(staged []model.StagedEmployee, refreshedAt time.Time, runID string) []model.DepartmentSurveyScores {
	type scoreAcc struct {
		sum   decimal.Decimal
		count int64
	}
	type accumulator struct {
		rows   int64
		scores [5]scoreAcc
	}

	byDept := make(map[string]*accumulator)
	for _, emp := range staged {
		acc, ok := byDept[emp.Department]
		if !ok {
			acc = &accumulator{}
			byDept[emp.Department] = acc
		}
		acc.rows++

		for i, score := range []*int64{
			emp.Scores.Satisfaction,
			emp.Scores.WorkLifeBalance,
			emp.Scores.CareerGrowth,
			emp.Scores.Communication,
			emp.Scores.Teamwork,
		} {
			if score == nil || *score == 0 {
				continue
			}
			acc.scores[i].sum = acc.scores[i].sum.Add(decimal.NewFromInt(*score))
			acc.scores[i].count++
		}
	}

	out := make([]model.DepartmentSurveyScores, 0, len(byDept))
	for dept, acc := range byDept {
		out = append(out, model.DepartmentSurveyScores{
			Department:         dept,
			NumResponses:       acc.rows,
			AvgSatisfaction:    safeAverage(acc.scores[0].sum, acc.scores[0].count),
			AvgWorkLifeBalance: safeAverage(acc.scores[1].sum, acc.scores[1].count),
			AvgCareerGrowth:    safeAverage(acc.scores[2].sum, acc.scores[2].count),
			AvgCommunication:   safeAverage(acc.scores[3].sum, acc.scores[3].count),
			AvgTeamwork:        safeAverage(acc.scores[4].sum, acc.scores[4].count),
			RefreshedAt:        refreshedAt,
			EtlRunID:           runID,
		})
	}
	sortSurveyScores(out)
	return out
}

// safeAverage divides sum by count, returning SQL NULL when there is
// nothing to average.
func safeAverage(sum decimal.Decimal, count int64) decimal.NullDecimal {
	if count == 0 {
		return decimal.NullDecimal{}
	}
	avg := sum.DivRound(decimal.NewFromInt(count), averagePrecision)
	return decimal.NullDecimal{Decimal: avg, Valid: true}
}

func sortDemographics(rows []model.DepartmentDemographics) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Department < rows[j].Department })
}

func sortSurveyScores(rows []model.DepartmentSurveyScores) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Department < rows[j].Department })
}
