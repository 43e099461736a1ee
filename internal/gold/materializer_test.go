package gold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeSilverStore struct {
	snapshot []model.StagedEmployee
	loadErr  error
}

func (s *fakeSilverStore) ApplyChangeset(ctx context.Context, batch storage.ChangesetBatch) (int64, error) {
	return 0, nil
}

func (s *fakeSilverStore) LoadStagedSnapshot(ctx context.Context) ([]model.StagedEmployee, error) {
	return s.snapshot, s.loadErr
}

type fakeGoldStore struct {
	demographics []model.DepartmentDemographics
	survey       []model.DepartmentSurveyScores
	replaceErr   error
	replaceCalls int
}

func (s *fakeGoldStore) ReplaceAggregates(
	ctx context.Context,
	demographics []model.DepartmentDemographics,
	survey []model.DepartmentSurveyScores,
) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaceCalls++
	s.demographics = demographics
	s.survey = survey
	return nil
}

func (s *fakeGoldStore) QueryDemographics(ctx context.Context, department string) ([]model.DepartmentDemographics, error) {
	return s.demographics, nil
}

func (s *fakeGoldStore) QuerySurveyScores(ctx context.Context, department string) ([]model.DepartmentSurveyScores, error) {
	return s.survey, nil
}

func (s *fakeGoldStore) LastRefreshedAt(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func staged(key int64, dept, gender string, age *int64, scores model.SurveyScores) model.StagedEmployee {
	return model.StagedEmployee{
		EmployeeNumber: key,
		Department:     dept,
		Gender:         gender,
		Age:            age,
		Scores:         scores,
	}
}

func ptr(n int64) *int64 {
	return &n
}

func TestMaterializer_Rebuild(t *testing.T) {
	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("recomputes both aggregates from the snapshot", func(t *testing.T) {
		silverStore := &fakeSilverStore{
			snapshot: []model.StagedEmployee{
				staged(1, "Engineering", "Female", ptr(30), model.SurveyScores{Satisfaction: ptr(4)}),
				staged(2, "Engineering", "Male", ptr(40), model.SurveyScores{Satisfaction: ptr(5)}),
				staged(3, "Sales", "nonbinary", nil, model.SurveyScores{}),
			},
		}
		goldStore := &fakeGoldStore{}
		m := NewMaterializer(silverStore, goldStore)
		m.nowFn = func() time.Time { return refreshedAt }

		stats, err := m.Rebuild(context.Background(), "run-1")
		require.NoError(t, err)
		require.Equal(t, RebuildStats{StagedRows: 3, Departments: 2}, stats)
		require.Equal(t, 1, goldStore.replaceCalls)
		require.Len(t, goldStore.demographics, 2)
		require.Len(t, goldStore.survey, 2)
		require.Equal(t, refreshedAt, goldStore.demographics[0].RefreshedAt)
		require.Equal(t, "run-1", goldStore.demographics[0].EtlRunID)
	})

	t.Run("snapshot load failure leaves gold untouched", func(t *testing.T) {
		silverStore := &fakeSilverStore{loadErr: errors.New("connection refused")}
		goldStore := &fakeGoldStore{}
		m := NewMaterializer(silverStore, goldStore)

		_, err := m.Rebuild(context.Background(), "run-1")
		require.Error(t, err)
		require.Equal(t, 0, goldStore.replaceCalls)
	})

	t.Run("empty snapshot yields empty aggregates", func(t *testing.T) {
		silverStore := &fakeSilverStore{}
		goldStore := &fakeGoldStore{}
		m := NewMaterializer(silverStore, goldStore)

		stats, err := m.Rebuild(context.Background(), "run-1")
		require.NoError(t, err)
		require.Equal(t, RebuildStats{}, stats)
		require.Equal(t, 1, goldStore.replaceCalls)
		require.Empty(t, goldStore.demographics)
	})
}

func TestComputeDemographics(t *testing.T) {
	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := []model.StagedEmployee{
		staged(1, "Engineering", "Female", ptr(30), model.SurveyScores{}),
		staged(2, "Engineering", " MALE ", ptr(41), model.SurveyScores{}),
		staged(3, "Engineering", "prefer not to say", nil, model.SurveyScores{}),
		staged(4, "Sales", "female", ptr(50), model.SurveyScores{}),
	}
	rows[0].TenureYears = decimal.NullDecimal{Decimal: decimal.NewFromFloat(2.5), Valid: true}
	rows[1].TenureYears = decimal.NullDecimal{Decimal: decimal.NewFromFloat(7.5), Valid: true}

	out := ComputeDemographics(rows, refreshedAt, "run-1")
	require.Len(t, out, 2)

	// Sorted by department, so Engineering first.
	eng := out[0]
	require.Equal(t, "Engineering", eng.Department)
	require.Equal(t, int64(3), eng.Headcount)
	require.Equal(t, int64(1), eng.MaleCount)
	require.Equal(t, int64(1), eng.FemaleCount)
	require.Equal(t, int64(1), eng.OtherCount)
	// Headcount splits exactly across the three gender buckets.
	require.Equal(t, eng.Headcount, eng.MaleCount+eng.FemaleCount+eng.OtherCount)
	// Nil age rows are excluded from the average, not counted as zero.
	require.True(t, eng.AvgAge.Valid)
	require.Equal(t, "35.5", eng.AvgAge.Decimal.String())
	require.True(t, eng.AvgTenure.Valid)
	require.Equal(t, "5", eng.AvgTenure.Decimal.String())

	sales := out[1]
	require.Equal(t, "Sales", sales.Department)
	require.Equal(t, int64(1), sales.Headcount)
	require.False(t, sales.AvgTenure.Valid)
}

func TestComputeDemographics_AllAgesMissing(t *testing.T) {
	rows := []model.StagedEmployee{
		staged(1, "Support", "Male", nil, model.SurveyScores{}),
		staged(2, "Support", "Female", nil, model.SurveyScores{}),
	}

	out := ComputeDemographics(rows, time.Now(), "run-1")
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Headcount)
	require.False(t, out[0].AvgAge.Valid)
}

func TestComputeSurveyScores(t *testing.T) {
	refreshedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := []model.StagedEmployee{
		staged(1, "Engineering", "Female", nil, model.SurveyScores{
			Satisfaction: ptr(3), Teamwork: ptr(4),
		}),
		staged(2, "Engineering", "Male", nil, model.SurveyScores{
			Satisfaction: ptr(5), Teamwork: ptr(0), // 0 is "no response"
		}),
		staged(3, "Engineering", "Male", nil, model.SurveyScores{}), // all unanswered
	}

	out := ComputeSurveyScores(rows, refreshedAt, "run-1")
	require.Len(t, out, 1)

	eng := out[0]
	// NumResponses counts rows, not answered scores.
	require.Equal(t, int64(3), eng.NumResponses)
	// 0 and NULL are excluded from numerator and denominator both.
	require.True(t, eng.AvgSatisfaction.Valid)
	require.Equal(t, "4", eng.AvgSatisfaction.Decimal.String())
	require.True(t, eng.AvgTeamwork.Valid)
	require.Equal(t, "4", eng.AvgTeamwork.Decimal.String())
	require.False(t, eng.AvgWorkLifeBalance.Valid)
	require.False(t, eng.AvgCareerGrowth.Valid)
	require.False(t, eng.AvgCommunication.Valid)
}

func TestComputeSurveyScores_RoundsToTwoPlaces(t *testing.T) {
	rows := []model.StagedEmployee{
		staged(1, "Sales", "Male", nil, model.SurveyScores{Satisfaction: ptr(3)}),
		staged(2, "Sales", "Male", nil, model.SurveyScores{Satisfaction: ptr(4)}),
		staged(3, "Sales", "Male", nil, model.SurveyScores{Satisfaction: ptr(3)}),
	}

	out := ComputeSurveyScores(rows, time.Now(), "run-1")
	require.Len(t, out, 1)
	require.Equal(t, "3.33", out[0].AvgSatisfaction.Decimal.String())
}
