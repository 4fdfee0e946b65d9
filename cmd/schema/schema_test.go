package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
)

func TestCategorize(t *testing.T) {
	tests := map[string]Category{
		"INTEGER":                      CategoryNumeric,
		"int4":                         CategoryNumeric,
		"DECIMAL(18,3)":                CategoryNumeric,
		"double precision":             CategoryNumeric,
		"HUGEINT":                      CategoryNumeric,
		"VARCHAR":                      CategoryString,
		"character varying(255)":       CategoryString,
		"TEXT":                         CategoryString,
		"uuid":                         CategoryString,
		"TIMESTAMP WITH TIME ZONE":     CategoryTemporal,
		"date":                         CategoryTemporal,
		"INTERVAL":                     CategoryTemporal,
		"BOOLEAN":                      CategoryBoolean,
		"BLOB":                         CategoryBinary,
		"bytea":                        CategoryBinary,
		"INTEGER[]":                    CategoryOther,
		"STRUCT(a INTEGER, b VARCHAR)": CategoryOther,
	}
	for typ, want := range tests {
		assert.Equal(t, want, Categorize(typ), typ)
	}
}

func TestCompare(t *testing.T) {
	a := []Column{
		{Name: "id", SQLType: "INTEGER"},
		{Name: "val", SQLType: "VARCHAR"},
		{Name: "amount", SQLType: "DECIMAL(10,2)"},
		{Name: "only_a", SQLType: "INTEGER"},
	}
	b := []Column{
		{Name: "amount", SQLType: "DOUBLE"},
		{Name: "val", SQLType: "INTEGER"},
		{Name: "ID", SQLType: "INTEGER"},
		{Name: "id", SQLType: "BIGINT"},
	}

	res := Compare(a, b)

	require.Len(t, res.CommonColumns, 3)
	assert.Equal(t, CommonColumn{Name: "id", TypeA: "INTEGER", TypeB: "BIGINT", TypesMatch: true}, res.CommonColumns[0])
	assert.Equal(t, "val", res.CommonColumns[1].Name)
	assert.False(t, res.CommonColumns[1].TypesMatch)
	assert.True(t, res.CommonColumns[2].TypesMatch)
	assert.Equal(t, []string{"only_a"}, res.OnlyInA)
	assert.Equal(t, []string{"ID"}, res.OnlyInB)
	assert.Equal(t, []string{"id"}, res.SuggestedKeys)
	assert.Nil(t, res.RowCountA)

	assert.True(t, res.HasB("ID"))
	assert.False(t, res.HasA("ID"))
	assert.Equal(t, "BIGINT", res.TypeB("id"))
}

func TestCompareIsPure(t *testing.T) {
	a := []Column{{Name: "id", SQLType: "INTEGER"}}
	assert.Equal(t, Compare(a, a), Compare(a, a))
}

func TestSuggestedKeys(t *testing.T) {
	heavy := 0.9

	t.Run("declared keys first", func(t *testing.T) {
		a := []Column{{Name: "id", SQLType: "INTEGER"}, {Name: "code", SQLType: "VARCHAR", PrimaryKey: true}}
		b := []Column{{Name: "id", SQLType: "INTEGER"}, {Name: "code", SQLType: "VARCHAR", Unique: true}}
		assert.Equal(t, []string{"code"}, Compare(a, b).SuggestedKeys)
	})

	t.Run("name heuristics", func(t *testing.T) {
		a := []Column{{Name: "customer_id"}, {Name: "pk"}, {Name: "id"}, {Name: "name"}}
		assert.Equal(t, []string{"id", "pk", "customer_id"}, Compare(a, a).SuggestedKeys)
	})

	t.Run("null heavy columns are skipped", func(t *testing.T) {
		a := []Column{{Name: "id", NullFraction: &heavy}, {Name: "order_id"}}
		b := []Column{{Name: "id"}, {Name: "order_id"}}
		assert.Equal(t, []string{"order_id"}, Compare(a, b).SuggestedKeys)
	})

	t.Run("nothing suggested", func(t *testing.T) {
		a := []Column{{Name: "name"}, {Name: "value"}}
		assert.Empty(t, Compare(a, a).SuggestedKeys)
	})
}

func TestIntrospectorDuckDB(t *testing.T) {
	// the in-memory backend holds a single connection, a leaked result set blocks the
	// key metadata query until the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := backend.Open(ctx, "duckdb", "")
	require.NoError(t, err)
	defer b.Close()

	_, err = b.SQL().ExecContext(ctx, `CREATE TABLE t_a (id INTEGER PRIMARY KEY, val VARCHAR, extra DOUBLE)`)
	require.NoError(t, err)
	_, err = b.SQL().ExecContext(ctx, `CREATE TABLE t_b (id BIGINT PRIMARY KEY, val VARCHAR)`)
	require.NoError(t, err)
	_, err = b.SQL().ExecContext(ctx, `INSERT INTO t_a VALUES (1, 'x', 1.5), (2, 'y', 2.5)`)
	require.NoError(t, err)

	in := NewIntrospector(b, nil)

	cols, err := in.Columns(ctx, comparison.Table("main", "t_a"))
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, CategoryNumeric, Categorize(cols[0].SQLType))
	assert.Equal(t, CategoryString, Categorize(cols[1].SQLType))

	res, err := in.Compare(ctx, comparison.Table("main", "t_a"), comparison.Query("SELECT id, val FROM t_b", "q_b"))
	require.NoError(t, err)
	assert.Len(t, res.CommonColumns, 2)
	assert.Equal(t, []string{"extra"}, res.OnlyInA)
	assert.Contains(t, res.SuggestedKeys, "id")
	assert.Nil(t, res.RowCountB, "query sources have no catalog estimate")

	_, err = in.Columns(ctx, comparison.Table("main", "missing"))
	assert.Error(t, err)
}

func TestIntrospectorSQLite(t *testing.T) {
	ctx := context.Background()
	b, err := backend.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer b.Close()

	_, err = b.SQL().ExecContext(ctx, `CREATE TABLE items (code TEXT PRIMARY KEY, qty INTEGER)`)
	require.NoError(t, err)

	in := NewIntrospector(b, nil)
	cols, err := in.Columns(ctx, comparison.Table("", "items"))
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].PrimaryKey)
	assert.False(t, cols[1].PrimaryKey)
	assert.Nil(t, in.EstimateRows(ctx, comparison.Table("", "items")))
}
