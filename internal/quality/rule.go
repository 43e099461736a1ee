package quality

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies a quality rule.
type Kind string

const (
	KindNotNull Kind = "not_null"
	KindRange   Kind = "range"
)

// Rule is one declarative data-quality check. Two rules are built in; more
// can be dropped into the rule directory as YAML files.
type Rule struct {
	Name    string   `yaml:"name"`
	Kind    Kind     `yaml:"kind"`
	Layer   string   `yaml:"layer"` // bronze | silver | gold
	Table   string   `yaml:"table"`
	Column  string   `yaml:"column"`  // not_null
	Columns []string `yaml:"columns"` // range
	Min     int64    `yaml:"min"`     // range
	Max     int64    `yaml:"max"`     // range
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.Table == "" {
		return fmt.Errorf("rule %q: table must not be empty", r.Name)
	}
	switch r.Kind {
	case KindNotNull:
		if r.Column == "" {
			return fmt.Errorf("rule %q: not_null rule needs a column", r.Name)
		}
	case KindRange:
		if len(r.Columns) == 0 {
			return fmt.Errorf("rule %q: range rule needs columns", r.Name)
		}
		if r.Min > r.Max {
			return fmt.Errorf("rule %q: min %d exceeds max %d", r.Name, r.Min, r.Max)
		}
	default:
		return fmt.Errorf("rule %q: unsupported kind %q", r.Name, r.Kind)
	}
	return nil
}

// BuiltinRules returns the two checks every deployment runs: NULL keys in
// bronze, and silver survey scores outside the valid 1-5 band (NULL reads
// as the 0 sentinel, so unanswered-but-present rows get flagged too).
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:   "check_nulls_in_bronze_employee_number",
			Kind:   KindNotNull,
			Layer:  "bronze",
			Table:  "raw_employees",
			Column: "employee_number",
		},
		{
			Name:  "check_silver_survey_ranges",
			Kind:  KindRange,
			Layer: "silver",
			Table: "staged_employees",
			Columns: []string{
				"satisfaction", "work_life_balance", "career_growth",
				"communication", "teamwork",
			},
			Min: 1,
			Max: 5,
		},
	}
}

// LoadRules returns the built-in rules plus any *.yaml rules found in dir.
// Each file holds exactly one rule at the top level. A missing directory is
// valid (built-ins only); a malformed or duplicate-named rule is a startup
// error.
func LoadRules(dir string) ([]Rule, error) {
	rules := BuiltinRules()
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		seen[r.Name] = true
	}

	if dir == "" {
		return rules, nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quality rule dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("quality rule path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading quality rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var rule Rule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if rule.Name == "" {
			continue // skip empty / comment-only files
		}
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("rule file %s: %w", path, err)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}

		seen[rule.Name] = true
		rules = append(rules, rule)
	}

	return rules, nil
}
