// Package sqlgen renders a comparison config into FULL OUTER JOIN diff SQL. It never
// executes anything; identical inputs always produce identical text.
package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/schema"
)

// Row statuses, in precedence order
const (
	StatusAdded    = "added"
	StatusRemoved  = "removed"
	StatusModified = "modified"
	StatusSame     = "same"
)

// Output column naming
const (
	RowStatusColumn = "_row_status"
	KeyPrefix       = "_key_"
	SuffixA         = "_a"
	SuffixB         = "_b"
	SuffixStatus    = "_status"
	CountColumn     = "_count"
)

var ErrNoJoinColumns = errors.New("cannot generate a diff without join columns")

// ColumnPair is one compared column, named on each side
type ColumnPair struct {
	Name  string
	BName string
	TypeA string
	TypeB string
}

// Generator renders diff SQL for one backend dialect
type Generator struct {
	dialect backend.Dialect
}

func New(dialect backend.Dialect) *Generator {
	return &Generator{dialect: dialect}
}

// Generate returns the ordered diff query, optionally restricted to a partition scope
func (g *Generator) Generate(cfg *comparison.Config, res *schema.Result, scope *Scope) (string, error) {
	body, err := g.diffCTEs(cfg, res, scope)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("SELECT * FROM diff\n")
	if cfg.ShowOnlyDifferences {
		fmt.Fprintf(&sb, "WHERE %s <> '%s'\n", q(RowStatusColumn), StatusSame)
	}
	keys := make([]string, len(cfg.JoinColumns))
	for i, col := range cfg.JoinColumns {
		keys[i] = q(KeyPrefix + col)
	}
	sb.WriteString("ORDER BY " + strings.Join(keys, ", "))
	return sb.String(), nil
}

// GenerateCount returns an unordered query yielding one (_row_status, _count) row per
// status present in the scope. It ignores ShowOnlyDifferences.
func (g *Generator) GenerateCount(cfg *comparison.Config, res *schema.Result, scope *Scope) (string, error) {
	body, err := g.diffCTEs(cfg, res, scope)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sSELECT %s, COUNT(*) AS %s FROM diff GROUP BY %s",
		body, q(RowStatusColumn), q(CountColumn), q(RowStatusColumn)), nil
}

// GenerateSourceCount returns COUNT(*) over one filtered source within a scope
func (g *Generator) GenerateSourceCount(cfg *comparison.Config, side comparison.Side, scope *Scope) (string, error) {
	if len(cfg.JoinColumns) == 0 {
		return "", ErrNoJoinColumns
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}

	var conds []string
	if f := strings.TrimSpace(cfg.Filter(side)); f != "" {
		conds = append(conds, "("+f+")")
	}
	if scope != nil {
		keys := make([]string, len(cfg.JoinColumns))
		for i, col := range cfg.JoinColumns {
			if side == comparison.SideB {
				col = cfg.BJoinName(col)
			}
			keys[i] = q(col)
		}
		conds = append(conds, scope.Predicate(g.dialect.HashExpr(keys)))
	}

	query := "SELECT COUNT(*) FROM " + backend.SourceRef(cfg.Source(side))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, nil
}

// ComparedColumns lists the non-key columns that are compared, in A's column order,
// or in CompareColumns order when the scope is explicit.
func ComparedColumns(cfg *comparison.Config, res *schema.Result) []ColumnPair {
	pair := func(name string) ColumnPair {
		p := ColumnPair{Name: name, BName: cfg.BColumnName(name)}
		if res != nil {
			p.TypeA = res.TypeA(name)
			p.TypeB = res.TypeB(p.BName)
		}
		return p
	}

	var pairs []ColumnPair
	if cfg.CompareColumns != nil {
		for _, col := range cfg.CompareColumns {
			if cfg.IsJoinColumn(col) || cfg.IsExcluded(col) {
				continue
			}
			pairs = append(pairs, pair(col))
		}
		return pairs
	}
	if res == nil {
		return nil
	}

	names := make([]string, 0, len(res.ColumnsA))
	for _, col := range res.ColumnsA {
		names = append(names, col.Name)
	}
	if len(names) == 0 {
		for _, cc := range res.CommonColumns {
			names = append(names, cc.Name)
		}
	}

	for _, name := range names {
		if cfg.IsJoinColumn(name) || cfg.IsExcluded(name) {
			continue
		}
		bName := cfg.BColumnName(name)
		if len(res.ColumnsB) > 0 && !res.HasB(bName) {
			continue
		}
		if len(res.ColumnsB) == 0 {
			if _, ok := res.Common(name); !ok {
				continue
			}
		}
		pairs = append(pairs, pair(name))
	}
	return pairs
}

// OutputColumns returns the column names of the diff query in select order
func OutputColumns(cfg *comparison.Config, res *schema.Result) []string {
	var cols []string
	for _, col := range cfg.JoinColumns {
		cols = append(cols, KeyPrefix+col)
	}
	for _, p := range ComparedColumns(cfg, res) {
		cols = append(cols, p.Name+SuffixA, p.Name+SuffixB, p.Name+SuffixStatus)
	}
	return append(cols, RowStatusColumn)
}

func (g *Generator) diffCTEs(cfg *comparison.Config, res *schema.Result, scope *Scope) (string, error) {
	if len(cfg.JoinColumns) == 0 {
		return "", ErrNoJoinColumns
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("WITH source_a AS (\n")
	sb.WriteString("    " + sourceSelect(cfg, comparison.SideA) + "\n")
	sb.WriteString("),\nsource_b AS (\n")
	sb.WriteString("    " + sourceSelect(cfg, comparison.SideB) + "\n")
	sb.WriteString("),\ndiff AS (\n    SELECT\n")

	var keysA, keysB, coalesced, joinOn []string
	for _, col := range cfg.JoinColumns {
		a := "a." + q(col)
		b := "b." + q(cfg.BJoinName(col))
		keysA = append(keysA, a)
		keysB = append(keysB, b)
		coalesced = append(coalesced, "COALESCE("+a+", "+b+")")
		joinOn = append(joinOn, a+" = "+b)
	}
	aMissing := allNull(keysA)
	bMissing := allNull(keysB)

	var selects []string
	for i, col := range cfg.JoinColumns {
		selects = append(selects, coalesced[i]+" AS "+q(KeyPrefix+col))
	}

	pairs := ComparedColumns(cfg, res)
	var distinct []string
	for _, p := range pairs {
		a := "a." + q(p.Name)
		b := "b." + q(p.BName)
		cond := g.distinct(cfg, p, a, b)
		distinct = append(distinct, cond)

		selects = append(selects,
			a+" AS "+q(p.Name+SuffixA),
			b+" AS "+q(p.Name+SuffixB),
			statusCase(aMissing, bMissing, cond)+" AS "+q(p.Name+SuffixStatus),
		)
	}

	rowModified := ""
	if len(distinct) > 0 {
		rowModified = "(" + strings.Join(distinct, ") OR (") + ")"
	}
	selects = append(selects, statusCase(aMissing, bMissing, rowModified)+" AS "+q(RowStatusColumn))

	sb.WriteString("        " + strings.Join(selects, ",\n        ") + "\n")
	sb.WriteString("    FROM source_a AS a\n")
	sb.WriteString("    FULL OUTER JOIN source_b AS b ON " + strings.Join(joinOn, " AND ") + "\n")
	if scope != nil {
		sb.WriteString("    WHERE " + scope.Predicate(g.dialect.HashExpr(coalesced)) + "\n")
	}
	sb.WriteString(")\n")
	return sb.String(), nil
}

func (g *Generator) distinct(cfg *comparison.Config, p ColumnPair, a, b string) string {
	if cfg.EffectiveCompareMode() == comparison.CompareLoose {
		if schema.Categorize(p.TypeA) == schema.CategoryNumeric && schema.Categorize(p.TypeB) == schema.CategoryNumeric {
			a, b = g.dialect.NumericCast(a), g.dialect.NumericCast(b)
		} else {
			a, b = g.dialect.TextCast(a), g.dialect.TextCast(b)
		}
	}
	return a + " IS DISTINCT FROM " + b
}

func sourceSelect(cfg *comparison.Config, side comparison.Side) string {
	stmt := "SELECT * FROM " + backend.SourceRef(cfg.Source(side))
	if f := strings.TrimSpace(cfg.Filter(side)); f != "" {
		stmt += " WHERE (" + f + ")"
	}
	return stmt
}

func statusCase(aMissing, bMissing, modified string) string {
	expr := fmt.Sprintf("CASE WHEN %s THEN '%s' WHEN %s THEN '%s'", aMissing, StatusAdded, bMissing, StatusRemoved)
	if modified != "" {
		expr += fmt.Sprintf(" WHEN %s THEN '%s'", modified, StatusModified)
	}
	return expr + fmt.Sprintf(" ELSE '%s' END", StatusSame)
}

func allNull(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " IS NULL"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func q(name string) string {
	return backend.QuoteIdent(name)
}
