package comparison

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceEqual(t *testing.T) {
	t.Run("table names are case-insensitive", func(t *testing.T) {
		a := Source{Type: SourceTable, DatabaseName: "Main", SchemaName: "Public", TableName: "Orders"}
		b := Source{Type: SourceTable, DatabaseName: "main", SchemaName: "public", TableName: "ORDERS"}
		assert.True(t, a.Equal(b))
		assert.Equal(t, a.Key(), b.Key())
	})

	t.Run("query sources need exact alias and sql", func(t *testing.T) {
		a := Query("SELECT 1 AS x", "q")
		assert.True(t, a.Equal(Query("SELECT 1 AS x", "q")))
		assert.False(t, a.Equal(Query("select 1 as x", "q")))
		assert.False(t, a.Equal(Query("SELECT 1 AS x", "Q")))
	})

	t.Run("different types never match", func(t *testing.T) {
		assert.False(t, Table("main", "q").Equal(Query("SELECT 1", "q")))
	})
}

func TestSourceValidate(t *testing.T) {
	assert.NoError(t, Table("", "orders").Validate())
	assert.Error(t, Table("main", " ").Validate())
	assert.Error(t, Query("", "q").Validate())
	assert.Error(t, Query("SELECT 1", "").Validate())
	assert.ErrorIs(t, Source{Type: "view"}.Validate(), ErrUnknownSourceType)
}

func TestConfigHelpers(t *testing.T) {
	cfg := &Config{
		JoinColumns:     []string{"id"},
		JoinKeyMappings: map[string]string{"id": "order_id"},
		ColumnMappings:  map[string]string{"val": "value"},
		FilterMode:      FilterPerSource,
		CommonFilter:    "ignored",
		FilterA:         "id > 1",
		FilterB:         "order_id > 1",
	}

	assert.Equal(t, "order_id", cfg.BJoinName("id"))
	assert.Equal(t, "other", cfg.BJoinName("other"))
	assert.Equal(t, "value", cfg.BColumnName("val"))
	assert.Equal(t, "id > 1", cfg.Filter(SideA))
	assert.Equal(t, "order_id > 1", cfg.Filter(SideB))

	cfg.FilterMode = ""
	assert.Equal(t, "ignored", cfg.Filter(SideA))
	assert.Equal(t, AlgorithmFull, cfg.EffectiveAlgorithm())
	assert.Equal(t, CompareStrict, cfg.EffectiveCompareMode())
}

func TestConfigClone(t *testing.T) {
	cfg := &Config{
		JoinColumns:     []string{"id"},
		JoinKeyMappings: map[string]string{"id": "id"},
		CompareColumns:  []string{"val"},
	}
	clone := cfg.Clone()
	clone.JoinColumns[0] = "other"
	clone.JoinKeyMappings["id"] = "other"
	clone.CompareColumns = append(clone.CompareColumns, "x")

	assert.Equal(t, "id", cfg.JoinColumns[0])
	assert.Equal(t, "id", cfg.JoinKeyMappings["id"])
	assert.Len(t, cfg.CompareColumns, 1)
	assert.Nil(t, (&Config{}).Clone().CompareColumns)
}

func TestSaveAndLoad(t *testing.T) {
	cfg := &Config{
		SourceA:             Table("main", "a"),
		SourceB:             Query("SELECT * FROM b", "b_q"),
		JoinColumns:         []string{"id"},
		FilterMode:          FilterCommon,
		CommonFilter:        "id > 5",
		ShowOnlyDifferences: true,
		Algorithm:           AlgorithmHashBucket,
	}
	path := filepath.Join(t.TempDir(), "cmp.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseExplicitEmptyScope(t *testing.T) {
	cfg, err := Parse([]byte("joinColumns: [id]\ncompareColumns: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.CompareColumns)
	assert.Empty(t, cfg.CompareColumns)
}
