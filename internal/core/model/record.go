package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawEmployee is one employee record as loaded into the bronze layer.
// Bronze is deliberately permissive: the key may be NULL and the survey blob
// is stored as-is. Cleaning happens on the way into silver.
type RawEmployee struct {
	// EmployeeNumber is the natural key. Nullable in bronze — upstream
	// extracts occasionally ship rows without one. Quality checks observe
	// these; the silver merge skips them.
	EmployeeNumber *int64 `json:"employee_number"`

	FirstName   string              `json:"first_name"`
	LastName    string              `json:"last_name"`
	Gender      string              `json:"gender"`
	Age         *int64              `json:"age"`
	Department  string              `json:"department"`
	Position    string              `json:"position"`
	HireDate    *Date               `json:"hire_date"`
	TenureYears decimal.NullDecimal `json:"tenure_years"`

	// EngagementSurvey is the semi-structured survey payload. Kept as raw
	// JSON in bronze; the transform stage coerces it into typed scores.
	EngagementSurvey json.RawMessage `json:"engagement_survey"`

	LoadedAt   time.Time `json:"loaded_at"`
	SourceFile string    `json:"source_file"`
}

// Validate checks the fields the loader requires before accepting a record.
// The key is intentionally NOT required here — NULL-key rows are valid
// bronze rows (and a quality-check target).
func (r *RawEmployee) Validate() error {
	if r.Department == "" {
		return fmt.Errorf("department is required")
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 150) {
		return fmt.Errorf("age %d out of range", *r.Age)
	}
	return nil
}

// Date is a calendar date serialized as "2006-01-02".
// Survey extracts carry dates without a time component; time.Time's default
// JSON format rejects them.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}
