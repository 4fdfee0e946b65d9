package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/schema"
)

func validConfig() *comparison.Config {
	return &comparison.Config{
		SourceA:      comparison.Table("main", "t_a"),
		SourceB:      comparison.Table("main", "t_b"),
		JoinColumns:  []string{"id"},
		FilterMode:   comparison.FilterCommon,
		CommonFilter: "id > 5",
		Algorithm:    comparison.AlgorithmHashBucket,
	}
}

func testSchema() *schema.Result {
	cols := []schema.Column{
		{Name: "id", SQLType: "INTEGER"},
		{Name: "val", SQLType: "VARCHAR"},
	}
	return schema.Compare(cols, append(cols, schema.Column{Name: "value", SQLType: "VARCHAR"}))
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Config(cfg, testSchema()))
	require.NoError(t, Config(cfg, nil))

	cfg.JoinColumns = nil
	err := Config(cfg, testSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoJoinColumns)
	assert.NotEmpty(t, err.Error())
}

func TestConfigRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*comparison.Config)
		schema *schema.Result
		want   error
	}{
		{
			name:   "empty compare scope",
			mutate: func(c *comparison.Config) { c.CompareColumns = []string{} },
			want:   ErrEmptyCompareScope,
		},
		{
			name:   "everything excluded",
			mutate: func(c *comparison.Config) { c.ExcludedColumns = []string{"val"} },
			schema: testSchema(),
			want:   ErrEmptyCompareScope,
		},
		{
			name:   "compare scope holds only join columns",
			mutate: func(c *comparison.Config) { c.CompareColumns = []string{"id"} },
			want:   ErrEmptyCompareScope,
		},
		{
			name: "compare scope fully excluded",
			mutate: func(c *comparison.Config) {
				c.CompareColumns = []string{"val"}
				c.ExcludedColumns = []string{"val"}
			},
			schema: testSchema(),
			want:   ErrEmptyCompareScope,
		},
		{
			name:   "unknown join column",
			mutate: func(c *comparison.Config) { c.JoinColumns = []string{"missing"} },
			schema: testSchema(),
			want:   ErrJoinColumnNotCommon,
		},
		{
			name: "join mapping to missing B column",
			mutate: func(c *comparison.Config) {
				c.JoinKeyMappings = map[string]string{"id": "nope"}
			},
			schema: testSchema(),
			want:   ErrJoinColumnNotCommon,
		},
		{
			name:   "unknown compare column",
			mutate: func(c *comparison.Config) { c.CompareColumns = []string{"value"} },
			schema: testSchema(),
			want:   ErrCompareColumnNotCommon,
		},
		{
			name:   "statement terminator",
			mutate: func(c *comparison.Config) { c.CommonFilter = "id > 5; DROP TABLE t_a" },
			want:   ErrDisallowedFilter,
		},
		{
			name: "per-source DML",
			mutate: func(c *comparison.Config) {
				c.FilterMode = comparison.FilterPerSource
				c.CommonFilter = ""
				c.FilterB = "id IN (SELECT id FROM other)"
			},
			want: ErrDisallowedFilter,
		},
		{
			name:   "set operation",
			mutate: func(c *comparison.Config) { c.CommonFilter = "1=1 UNION ALL select 2" },
			want:   ErrDisallowedFilter,
		},
		{
			name:   "bad source",
			mutate: func(c *comparison.Config) { c.SourceB = comparison.Query("", "b") },
			want:   ErrInvalidSource,
		},
		{
			name:   "bad algorithm",
			mutate: func(c *comparison.Config) { c.Algorithm = "sorted-merge" },
			want:   ErrInvalidAlgorithm,
		},
		{
			name:   "bad compare mode",
			mutate: func(c *comparison.Config) { c.CompareMode = "fuzzy" },
			want:   ErrInvalidCompareMode,
		},
		{
			name:   "per-source filter in common mode",
			mutate: func(c *comparison.Config) { c.FilterA = "id > 1" },
			want:   ErrMisplacedFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, Config(cfg, tt.schema), tt.want)
		})
	}
}

func TestConfigRuleOrder(t *testing.T) {
	cfg := validConfig()
	cfg.JoinColumns = nil
	cfg.CompareColumns = []string{}
	cfg.CommonFilter = "DROP TABLE x"
	assert.ErrorIs(t, Config(cfg, testSchema()), ErrNoJoinColumns)

	cfg.JoinColumns = []string{"missing"}
	assert.ErrorIs(t, Config(cfg, testSchema()), ErrEmptyCompareScope)

	cfg.CompareColumns = nil
	assert.ErrorIs(t, Config(cfg, testSchema()), ErrJoinColumnNotCommon)

	cfg.JoinColumns = []string{"id"}
	assert.ErrorIs(t, Config(cfg, testSchema()), ErrDisallowedFilter)
}

func TestConfigMappedColumns(t *testing.T) {
	cfg := validConfig()
	cfg.CompareColumns = []string{"val"}
	cfg.ColumnMappings = map[string]string{"val": "value"}
	assert.NoError(t, Config(cfg, testSchema()))
}

func TestFilter(t *testing.T) {
	allowed := []string{
		"",
		"id > 5",
		"status = 'deleted; or dropped'",
		`"select" = 1`,
		"created_at >= DATE '2024-01-01' AND name LIKE 'a%'",
		"upper(name) <> 'DROP'",
		"name = 'it''s'",
	}
	for _, f := range allowed {
		assert.NoError(t, Filter(f), f)
	}

	rejected := []string{
		"id > 5 -- comment",
		"id > 5 /* hidden */",
		"id > 5;",
		"1=1 or delete from t",
		"id > 5 INTERSECT select 1",
		"name = 'unterminated",
		"ATTACH 'x.db'",
	}
	for _, f := range rejected {
		assert.ErrorIs(t, Filter(f), ErrDisallowedFilter, f)
	}
}

func TestSyntax(t *testing.T) {
	allowed := []string{
		"",
		"id > 5",
		"(id > 5 AND val IS NOT NULL) OR id IN (1, 2, 3)",
		"created_at >= DATE '2024-01-01' AND lower(val) LIKE 'a%'",
		"CASE WHEN id > 5 THEN true ELSE false END",
		"val::integer BETWEEN 1 AND 10",
	}
	for _, f := range allowed {
		assert.NoError(t, Syntax(f), f)
	}

	tests := []struct {
		expr string
		want error
	}{
		{"id IN (FROM other_tbl)", ErrFilterSyntax},
		{"id IN (TABLE other_tbl)", ErrDisallowedFilter},
		{"EXISTS (SELECT 1 FROM other_tbl)", ErrDisallowedFilter},
		{"id = ANY (ARRAY(SELECT id FROM other_tbl))", ErrDisallowedFilter},
		{"coalesce(id, (VALUES (1))) > 0", ErrDisallowedFilter},
		{"id > 5)", ErrFilterSyntax},
		{"(id > 5", ErrFilterSyntax},
		{"id > 5) OR (1 = 1", ErrFilterSyntax},
		{"id > 5 ORDER BY id", ErrDisallowedFilter},
		{"id > 5 GROUP BY id", ErrDisallowedFilter},
		{"id > 5 LIMIT 1", ErrDisallowedFilter},
		{"id >", ErrFilterSyntax},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, Syntax(tt.expr), tt.want, tt.expr)
	}
}

func TestConfigForDialect(t *testing.T) {
	cfg := validConfig()
	cfg.CommonFilter = "id IN (TABLE other_tbl)"

	require.NoError(t, Config(cfg, testSchema()), "the keyword scan alone lets it through")
	assert.ErrorIs(t, ConfigFor("duckdb", cfg, testSchema()), ErrDisallowedFilter)
	assert.ErrorIs(t, ConfigFor("postgres", cfg, testSchema()), ErrDisallowedFilter)
	assert.NoError(t, ConfigFor("sqlite", cfg, testSchema()))

	cfg.CommonFilter = "id > 5"
	assert.NoError(t, ConfigFor("duckdb", cfg, testSchema()))

	cfg.FilterMode = comparison.FilterPerSource
	cfg.CommonFilter = ""
	cfg.FilterB = "id > 5)"
	err := ConfigFor("postgres", cfg, testSchema())
	assert.ErrorIs(t, err, ErrFilterSyntax)
	assert.Contains(t, err.Error(), "filter B")
}
