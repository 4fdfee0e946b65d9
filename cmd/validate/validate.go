// Package validate enforces structural rules on a comparison config before it runs.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/schema"
)

// Static errors for comparison validation
var (
	ErrNoJoinColumns          = errors.New("at least one join column is required")
	ErrEmptyCompareScope      = errors.New("at least one column must be compared")
	ErrJoinColumnNotCommon    = errors.New("join column is not present in both sources")
	ErrCompareColumnNotCommon = errors.New("compare column is not present in both sources")
	ErrDisallowedFilter       = errors.New("filter contains a disallowed SQL construct")
	ErrInvalidSource          = errors.New("invalid source")
	ErrInvalidFilterMode      = errors.New("filter mode must be one of: common, per-source")
	ErrInvalidCompareMode     = errors.New("compare mode must be one of: strict, loose")
	ErrInvalidAlgorithm       = errors.New("algorithm must be one of: full, hash-bucket, hash-range")
	ErrMisplacedFilter        = errors.New("per-source filters require filter mode per-source")
)

var (
	quotedText = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)

	forbiddenKeywords = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
		"select", "insert", "update", "delete", "merge", "upsert", "drop", "create", "alter",
		"truncate", "rename", "grant", "revoke", "attach", "detach", "copy", "export",
		"import", "install", "load", "pragma", "call", "execute", "exec", "set", "reset",
		"vacuum", "checkpoint", "begin", "commit", "rollback", "union", "intersect", "except",
		"into",
	}, "|") + `)\b`)
)

// Config checks a comparison config, optionally against a schema comparison.
// Rules run in a fixed order and the first failure is returned.
func Config(cfg *comparison.Config, res *schema.Result) error {
	return check(cfg, res, "")
}

// ConfigFor runs the Config rules and also parses filters with the grammar of the
// backend dialect when one is available.
func ConfigFor(dialect string, cfg *comparison.Config, res *schema.Result) error {
	return check(cfg, res, dialect)
}

func check(cfg *comparison.Config, res *schema.Result, dialect string) error {
	if len(cfg.JoinColumns) == 0 {
		return ErrNoJoinColumns
	}

	if cfg.CompareColumns != nil && !anyCompared(cfg) {
		return ErrEmptyCompareScope
	}
	if res != nil && cfg.CompareColumns == nil && len(cfg.ExcludedColumns) > 0 && allExcluded(cfg, res) {
		return ErrEmptyCompareScope
	}

	if res != nil {
		for _, col := range cfg.JoinColumns {
			if !res.HasA(col) || !res.HasB(cfg.BJoinName(col)) {
				return fmt.Errorf("%w: %s", ErrJoinColumnNotCommon, col)
			}
		}
		for _, col := range cfg.CompareColumns {
			if !res.HasA(col) || !res.HasB(cfg.BColumnName(col)) {
				return fmt.Errorf("%w: %s", ErrCompareColumnNotCommon, col)
			}
		}
	}

	for _, f := range []struct{ name, expr string }{
		{"common filter", cfg.CommonFilter},
		{"filter A", cfg.FilterA},
		{"filter B", cfg.FilterB},
	} {
		if err := Filter(f.expr); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		if !parsesFilters(dialect) {
			continue
		}
		if err := Syntax(f.expr); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}

	return structure(cfg)
}

// Filter rejects statement terminators, comments, DDL/DML keywords and set operations.
// It scans text only and never executes the expression.
func Filter(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}

	masked := quotedText.ReplaceAllString(expr, "''")
	if strings.Count(masked, "'")%2 != 0 || strings.Count(masked, `"`)%2 != 0 {
		return fmt.Errorf("%w: unterminated quote", ErrDisallowedFilter)
	}

	for _, token := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(masked, token) {
			return fmt.Errorf("%w: %q", ErrDisallowedFilter, token)
		}
	}

	if m := forbiddenKeywords.FindString(masked); m != "" {
		return fmt.Errorf("%w: %s", ErrDisallowedFilter, strings.ToUpper(m))
	}
	return nil
}

func structure(cfg *comparison.Config) error {
	if err := cfg.SourceA.Validate(); err != nil {
		return fmt.Errorf("%w: source A: %s", ErrInvalidSource, err.Error())
	}
	if err := cfg.SourceB.Validate(); err != nil {
		return fmt.Errorf("%w: source B: %s", ErrInvalidSource, err.Error())
	}

	switch cfg.EffectiveFilterMode() {
	case comparison.FilterCommon:
		if cfg.FilterA != "" || cfg.FilterB != "" {
			return ErrMisplacedFilter
		}
	case comparison.FilterPerSource:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidFilterMode, cfg.FilterMode)
	}

	switch cfg.EffectiveCompareMode() {
	case comparison.CompareStrict, comparison.CompareLoose:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidCompareMode, cfg.CompareMode)
	}

	switch cfg.EffectiveAlgorithm() {
	case comparison.AlgorithmFull, comparison.AlgorithmHashBucket, comparison.AlgorithmHashRange:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidAlgorithm, cfg.Algorithm)
	}
	return nil
}

// anyCompared reports whether an explicit compare list keeps a column once join and
// excluded columns are removed
func anyCompared(cfg *comparison.Config) bool {
	for _, col := range cfg.CompareColumns {
		if !cfg.IsJoinColumn(col) && !cfg.IsExcluded(col) {
			return true
		}
	}
	return false
}

func allExcluded(cfg *comparison.Config, res *schema.Result) bool {
	candidates := 0
	for _, cc := range res.CommonColumns {
		if cfg.IsJoinColumn(cc.Name) {
			continue
		}
		candidates++
		if !cfg.IsExcluded(cc.Name) {
			return false
		}
	}
	return candidates > 0
}
