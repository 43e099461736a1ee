package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// identPattern is the only shape of table/column name the quality adapter
// will interpolate. Names come from config files, not request input, but
// they still never reach SQL unvalidated.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// QualityAdapter runs read-only data-quality probes. Checks are
// observational: they count offending rows and capture a bounded sample as
// JSON evidence, never mutating anything.
type QualityAdapter struct {
	db *sql.DB
}

// NewQualityAdapter creates a quality adapter sharing the given connection.
func NewQualityAdapter(db *sql.DB) *QualityAdapter {
	return &QualityAdapter{db: db}
}

// CountNull counts rows where column IS NULL and returns up to sampleLimit
// offending rows as a JSON array.
func (a *QualityAdapter) CountNull(ctx context.Context, table, column string, sampleLimit int) (int64, json.RawMessage, error) {
	if err := validIdent(table); err != nil {
		return 0, nil, fmt.Errorf("null check: %w", err)
	}
	if err := validIdent(column); err != nil {
		return 0, nil, fmt.Errorf("null check: %w", err)
	}

	predicate := fmt.Sprintf("%s IS NULL", column)
	return a.countAndSample(ctx, table, predicate, nil, sampleLimit)
}

// CountOutOfRange counts rows where any listed column, with NULL treated as
// 0, falls outside [min, max]; returns a bounded JSON sample of offenders.
// The NULL-as-zero sentinel mirrors the scoring convention: an unanswered
// score reads as 0, which is outside the valid 1-5 band and gets flagged.
func (a *QualityAdapter) CountOutOfRange(ctx context.Context, table string, columns []string, min, max int64, sampleLimit int) (int64, json.RawMessage, error) {
	if err := validIdent(table); err != nil {
		return 0, nil, fmt.Errorf("range check: %w", err)
	}
	if len(columns) == 0 {
		return 0, nil, fmt.Errorf("range check: no columns given")
	}

	clauses := make([]string, 0, len(columns))
	for _, col := range columns {
		if err := validIdent(col); err != nil {
			return 0, nil, fmt.Errorf("range check: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf("COALESCE(%s, 0) NOT BETWEEN $1 AND $2", col))
	}
	predicate := strings.Join(clauses, " OR ")

	return a.countAndSample(ctx, table, predicate, []interface{}{min, max}, sampleLimit)
}

func (a *QualityAdapter) countAndSample(
	ctx context.Context,
	table, predicate string,
	args []interface{},
	sampleLimit int,
) (int64, json.RawMessage, error) {
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, predicate)

	var count int64
	if err := a.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("quality count on %s: %w", table, err)
	}

	if count == 0 {
		return 0, json.RawMessage(`[]`), nil
	}

	sampleQuery := fmt.Sprintf(
		`SELECT COALESCE(json_agg(t), '[]'::json) FROM (SELECT * FROM %s WHERE %s LIMIT %d) t`,
		table, predicate, sampleLimit,
	)

	var sample []byte
	if err := a.db.QueryRowContext(ctx, sampleQuery, args...).Scan(&sample); err != nil {
		return 0, nil, fmt.Errorf("quality sample on %s: %w", table, err)
	}

	return count, json.RawMessage(sample), nil
}
