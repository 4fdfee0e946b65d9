package formatters

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var diffColumns = []string{"_key_id", "name_a", "name_b", "name_status", "_row_status"}

func diffRows() []map[string]interface{} {
	return []map[string]interface{}{
		{"_key_id": int64(5), "name_a": "v5", "name_b": "changed", "name_status": "modified", "_row_status": "modified"},
		{"_key_id": int64(11), "name_a": nil, "name_b": "v11", "name_status": "added", "_row_status": "added"},
	}
}

func roundTrip(t *testing.T, format string) []map[string]interface{} {
	t.Helper()
	f, err := GetFormatterWithCompression(format, "zstd")
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := f.NewWriter(&buf, InferSchema(diffColumns, diffRows()))
	require.NoError(t, err)
	rows := diffRows()
	require.NoError(t, w.WriteChunk(rows[:1]))
	require.NoError(t, w.WriteChunk(rows[1:]))
	require.NoError(t, w.Close())

	r, err := GetReader(format, &buf)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	return got
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []string{FormatJSONL, FormatCSV, FormatParquet} {
		t.Run(format, func(t *testing.T) {
			got := roundTrip(t, format)
			require.Len(t, got, 2)
			assert.EqualValues(t, 5, got[0]["_key_id"])
			assert.Equal(t, "changed", got[0]["name_b"])
			assert.Equal(t, "added", got[1]["_row_status"])
			assert.Nil(t, got[1]["name_a"])
		})
	}
}

func TestCSVHeaderFollowsSchemaOrder(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVFormatter().NewWriter(&buf, InferSchema(diffColumns, nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, strings.Join(diffColumns, ",")+"\n", buf.String())
}

func TestInferSchema(t *testing.T) {
	schema := InferSchema([]string{"a", "b", "c", "d"}, []map[string]interface{}{
		{"a": nil, "b": 1.5, "c": nil},
		{"a": true, "b": nil, "c": int32(3)},
	})
	assert.Equal(t, []ColumnType{TypeBool, TypeDouble, TypeInt64, TypeString}, []ColumnType{
		schema.Columns[0].Type, schema.Columns[1].Type, schema.Columns[2].Type, schema.Columns[3].Type,
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, schema.Names())
}

func TestParquetCoercesMixedValues(t *testing.T) {
	schema := Schema{Columns: []Column{{Name: "n", Type: TypeInt64}, {Name: "s", Type: TypeString}}}
	var buf bytes.Buffer
	w, err := NewParquetFormatter().NewWriter(&buf, schema)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk([]map[string]interface{}{
		{"n": int32(1), "s": 42},
		{"n": "7", "s": []byte("raw")},
		{"n": "not a number"},
	}))
	require.NoError(t, w.Close())

	r, err := NewParquetReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "s"}, r.Columns())

	first, err := r.ReadChunk(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0]["n"])
	assert.Equal(t, "42", first[0]["s"])
	assert.Equal(t, int64(7), first[1]["n"])
	assert.Equal(t, "raw", first[1]["s"])

	rest, err := r.ReadChunk(2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Nil(t, rest[0]["n"])
	assert.Nil(t, rest[0]["s"])

	empty, err := r.ReadChunk(2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFormatLookup(t *testing.T) {
	_, err := GetFormatter("xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	format, err := FormatFromPath("out/diff.ndjson")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, format)

	_, err = FormatFromPath("diff.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.True(t, UsesInternalCompression(FormatParquet))
	assert.False(t, UsesInternalCompression(FormatCSV))
}
