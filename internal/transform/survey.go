// Package transform turns raw change events into typed staged-row
// candidates: the survey blob becomes five scalar scores, with best-effort
// coercion that degrades to NULL instead of failing the batch.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/preethamsamatham/medallion/internal/core/model"
)

// Survey field names as they appear in the semi-structured blob.
const (
	fieldSatisfaction    = "satisfaction"
	fieldWorkLifeBalance = "work_life_balance"
	fieldCareerGrowth    = "career_growth"
	fieldCommunication   = "communication"
	fieldTeamwork        = "teamwork"
)

// ParseSurvey extracts the five engagement scores from the survey blob.
// Each score is coerced independently: a missing, malformed, or non-numeric
// field yields nil for that score and nothing else. Malformed survey data
// is common upstream; degrading to NULL keeps one bad field from poisoning
// the record or the batch. An unparseable blob yields all-nil scores.
func ParseSurvey(blob json.RawMessage) model.SurveyScores {
	if len(blob) == 0 {
		return model.SurveyScores{}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(blob, &fields); err != nil {
		return model.SurveyScores{}
	}

	return model.SurveyScores{
		Satisfaction:    tryParseScore(fields, fieldSatisfaction),
		WorkLifeBalance: tryParseScore(fields, fieldWorkLifeBalance),
		CareerGrowth:    tryParseScore(fields, fieldCareerGrowth),
		Communication:   tryParseScore(fields, fieldCommunication),
		Teamwork:        tryParseScore(fields, fieldTeamwork),
	}
}

// tryParseScore pulls one numeric field out of the decoded blob.
// JSON numbers unmarshal to float64 in Go — that's the common path; numeric
// strings are tolerated because upstream extracts quote inconsistently.
// Bools, objects, arrays, and garbage strings all coerce to nil.
func tryParseScore(fields map[string]interface{}, name string) *int64 {
	v, ok := fields[name]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case float64:
		n := int64(val)
		return &n
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n := int64(f)
			return &n
		}
	}
	return nil
}

// BuildStagedCandidate decodes a change event's after-image into a staged
// row, parsing the survey blob and stamping merge metadata. Only INSERT and
// UPDATE events carry payloads; calling this with a DELETE is a programming
// error surfaced as an error, not a panic.
func BuildStagedCandidate(evt model.ChangeEvent, runID, sourceObject string, stagedAt time.Time) (model.StagedEmployee, error) {
	if evt.Action == model.ActionDelete {
		return model.StagedEmployee{}, fmt.Errorf("delete event has no staged candidate")
	}
	if evt.EmployeeNumber == nil {
		return model.StagedEmployee{}, fmt.Errorf("change event has no employee_number")
	}
	if len(evt.Payload) == 0 {
		return model.StagedEmployee{}, fmt.Errorf("change event for key %d has no payload", *evt.EmployeeNumber)
	}

	var raw model.RawEmployee
	if err := json.Unmarshal(evt.Payload, &raw); err != nil {
		return model.StagedEmployee{}, fmt.Errorf("decode payload for key %d: %w", *evt.EmployeeNumber, err)
	}

	emp := model.StagedEmployee{
		EmployeeNumber: *evt.EmployeeNumber,
		FirstName:      strings.TrimSpace(raw.FirstName),
		LastName:       strings.TrimSpace(raw.LastName),
		Gender:         strings.TrimSpace(raw.Gender),
		Age:            raw.Age,
		Department:     strings.TrimSpace(raw.Department),
		Position:       strings.TrimSpace(raw.Position),
		TenureYears:    raw.TenureYears,
		Scores:         ParseSurvey(raw.EngagementSurvey),
		StagedAt:       stagedAt,
		SourceObject:   sourceObject,
		EtlRunID:       runID,
	}
	if raw.HireDate != nil {
		t := raw.HireDate.Time
		emp.HireDate = &t
	}

	return emp, nil
}
