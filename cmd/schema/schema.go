// Package schema compares the column sets of two sources and suggests join keys.
package schema

import (
	"regexp"
	"strings"
)

// Category is a normalized type family used to decide type compatibility
type Category string

const (
	CategoryNumeric  Category = "numeric"
	CategoryString   Category = "string"
	CategoryTemporal Category = "temporal"
	CategoryBoolean  Category = "boolean"
	CategoryBinary   Category = "binary"
	CategoryOther    Category = "other"
)

// Column is one column of a source schema
type Column struct {
	Name       string `json:"name"`
	SQLType    string `json:"sqlType"`
	Nullable   bool   `json:"nullable,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	// NullFraction is the share of NULL values when known
	NullFraction *float64 `json:"nullFraction,omitempty"`
}

// CommonColumn is a column present on both sides
type CommonColumn struct {
	Name       string `json:"name"`
	TypeA      string `json:"typeA"`
	TypeB      string `json:"typeB"`
	TypesMatch bool   `json:"typesMatch"`
}

// Result is the comparison of two source schemas
type Result struct {
	CommonColumns []CommonColumn `json:"commonColumns"`
	OnlyInA       []string       `json:"onlyInA"`
	OnlyInB       []string       `json:"onlyInB"`
	SuggestedKeys []string       `json:"suggestedKeys"`
	RowCountA     *int64         `json:"rowCountA"`
	RowCountB     *int64         `json:"rowCountB"`

	ColumnsA []Column `json:"columnsA"`
	ColumnsB []Column `json:"columnsB"`
}

const nullHeavyFraction = 0.5

var typeParams = regexp.MustCompile(`\(.*\)`)

// Categorize maps a backend type name to its category
func Categorize(sqlType string) Category {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	t = typeParams.ReplaceAllString(t, "")
	t = strings.TrimSpace(t)

	if strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "_") {
		return CategoryOther
	}

	switch {
	case t == "bool" || t == "boolean":
		return CategoryBoolean
	case strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "time") || strings.HasPrefix(t, "interval") ||
		t == "date" || t == "datetime":
		return CategoryTemporal
	case strings.Contains(t, "int") || strings.HasPrefix(t, "decimal") || strings.HasPrefix(t, "numeric") ||
		strings.HasPrefix(t, "float") || strings.HasPrefix(t, "double") || t == "real" ||
		strings.Contains(t, "serial") || t == "number" || t == "money":
		return CategoryNumeric
	case strings.Contains(t, "char") || strings.Contains(t, "text") || t == "string" ||
		t == "uuid" || t == "name" || t == "clob" || t == "json" || t == "jsonb" || t == "enum":
		return CategoryString
	case t == "blob" || t == "bytea" || strings.Contains(t, "binary") || t == "bit":
		return CategoryBinary
	default:
		return CategoryOther
	}
}

// Compare computes common and one-sided columns and key suggestions. It is pure.
func Compare(a, b []Column) *Result {
	res := &Result{
		CommonColumns: []CommonColumn{},
		OnlyInA:       []string{},
		OnlyInB:       []string{},
		SuggestedKeys: []string{},
		ColumnsA:      a,
		ColumnsB:      b,
	}

	byNameB := make(map[string]Column, len(b))
	for _, col := range b {
		byNameB[col.Name] = col
	}
	byNameA := make(map[string]Column, len(a))
	for _, col := range a {
		byNameA[col.Name] = col
	}

	for _, colA := range a {
		colB, ok := byNameB[colA.Name]
		if !ok {
			res.OnlyInA = append(res.OnlyInA, colA.Name)
			continue
		}
		res.CommonColumns = append(res.CommonColumns, CommonColumn{
			Name:       colA.Name,
			TypeA:      colA.SQLType,
			TypeB:      colB.SQLType,
			TypesMatch: Categorize(colA.SQLType) == Categorize(colB.SQLType),
		})
	}
	for _, colB := range b {
		if _, ok := byNameA[colB.Name]; !ok {
			res.OnlyInB = append(res.OnlyInB, colB.Name)
		}
	}

	res.SuggestedKeys = suggestKeys(res.CommonColumns, byNameA, byNameB)
	return res
}

func suggestKeys(common []CommonColumn, a, b map[string]Column) []string {
	keys := []string{}

	// Declared keys win when both sides agree on them.
	for _, cc := range common {
		colA, colB := a[cc.Name], b[cc.Name]
		if (colA.PrimaryKey || colA.Unique) && (colB.PrimaryKey || colB.Unique) {
			keys = append(keys, cc.Name)
		}
	}
	if len(keys) > 0 {
		return keys
	}

	usable := func(cc CommonColumn) bool {
		return !nullHeavy(a[cc.Name]) && !nullHeavy(b[cc.Name])
	}

	for _, exact := range []string{"id", "pk"} {
		for _, cc := range common {
			if strings.EqualFold(cc.Name, exact) && usable(cc) {
				keys = append(keys, cc.Name)
			}
		}
	}
	for _, cc := range common {
		if strings.HasSuffix(strings.ToLower(cc.Name), "_id") && usable(cc) {
			keys = append(keys, cc.Name)
		}
	}
	return keys
}

func nullHeavy(col Column) bool {
	return col.NullFraction != nil && *col.NullFraction > nullHeavyFraction
}

// Common returns the common column with the given name
func (r *Result) Common(name string) (CommonColumn, bool) {
	for _, cc := range r.CommonColumns {
		if cc.Name == name {
			return cc, true
		}
	}
	return CommonColumn{}, false
}

// HasA reports whether side A has a column with this name
func (r *Result) HasA(name string) bool {
	return hasColumn(r.ColumnsA, name)
}

// HasB reports whether side B has a column with this name
func (r *Result) HasB(name string) bool {
	return hasColumn(r.ColumnsB, name)
}

// TypeA returns the declared type of a column on side A
func (r *Result) TypeA(name string) string {
	return columnType(r.ColumnsA, name)
}

// TypeB returns the declared type of a column on side B
func (r *Result) TypeB(name string) string {
	return columnType(r.ColumnsB, name)
}

func hasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func columnType(cols []Column, name string) string {
	for _, c := range cols {
		if c.Name == name {
			return c.SQLType
		}
	}
	return ""
}
