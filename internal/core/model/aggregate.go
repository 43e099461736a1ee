package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepartmentDemographics is one gold row: headcount and demographic rollups
// for a single department. Derived entirely from the silver snapshot —
// never mutated in place, always replaced wholesale on rebuild.
type DepartmentDemographics struct {
	Department  string
	Headcount   int64
	AvgAge      decimal.NullDecimal
	AvgTenure   decimal.NullDecimal
	MaleCount   int64
	FemaleCount int64
	OtherCount  int64
	RefreshedAt time.Time
	EtlRunID    string
}

// DepartmentSurveyScores is one gold row: per-department averages of the
// five engagement scores. A score of 0 or NULL is "no response" and is
// excluded from its average; NumResponses counts every silver row in the
// department regardless of which scores are populated.
type DepartmentSurveyScores struct {
	Department         string
	NumResponses       int64
	AvgSatisfaction    decimal.NullDecimal
	AvgWorkLifeBalance decimal.NullDecimal
	AvgCareerGrowth    decimal.NullDecimal
	AvgCommunication   decimal.NullDecimal
	AvgTeamwork        decimal.NullDecimal
	RefreshedAt        time.Time
	EtlRunID           string
}
