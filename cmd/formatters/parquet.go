package formatters

import (
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

const parquetSchemaName = "data_diff"

// ParquetFormatter writes rows as a Parquet file with internal compression
type ParquetFormatter struct {
	compression string
}

func NewParquetFormatter() *ParquetFormatter {
	return &ParquetFormatter{compression: "snappy"}
}

// NewParquetFormatterWithCompression selects the column codec: zstd, gzip, lz4, snappy or none
func NewParquetFormatterWithCompression(compression string) *ParquetFormatter {
	if compression == "" {
		compression = "snappy"
	}
	return &ParquetFormatter{compression: compression}
}

func (f *ParquetFormatter) NewWriter(w io.Writer, schema Schema) (StreamWriter, error) {
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("parquet output needs at least one column")
	}

	fields := make(parquet.Group, len(schema.Columns))
	for _, col := range schema.Columns {
		var node parquet.Node
		switch col.Type {
		case TypeBool:
			node = parquet.Leaf(parquet.BooleanType)
		case TypeInt64:
			node = parquet.Int(64)
		case TypeDouble:
			node = parquet.Leaf(parquet.DoubleType)
		case TypeBytes:
			node = parquet.Leaf(parquet.ByteArrayType)
		default:
			node = parquet.String()
		}
		fields[col.Name] = parquet.Optional(node)
	}

	writer := parquet.NewGenericWriter[map[string]any](w, parquet.NewSchema(parquetSchemaName, fields), f.codec())
	return &parquetStreamWriter{writer: writer, schema: schema}, nil
}

func (f *ParquetFormatter) codec() parquet.WriterOption {
	switch f.compression {
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

func (f *ParquetFormatter) Extension() string {
	return ".parquet"
}

func (f *ParquetFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}

type parquetStreamWriter struct {
	writer *parquet.GenericWriter[map[string]any]
	schema Schema
}

// WriteChunk coerces values to the schema types, then writes them as one batch
func (w *parquetStreamWriter) WriteChunk(rows []map[string]interface{}) error {
	batch := make([]map[string]any, len(rows))
	for i, row := range rows {
		out := make(map[string]any, len(w.schema.Columns))
		for _, col := range w.schema.Columns {
			out[col.Name] = coerce(row[col.Name], col.Type)
		}
		batch[i] = out
	}
	if _, err := w.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	return nil
}

// Close writes the footer
func (w *parquetStreamWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func coerce(v interface{}, typ ColumnType) interface{} {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
		b, err := strconv.ParseBool(stringValue(v))
		if err != nil {
			return nil
		}
		return b
	case TypeInt64:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int8:
			return int64(n)
		case int16:
			return int64(n)
		case int32:
			return int64(n)
		case int64:
			return n
		case uint8:
			return int64(n)
		case uint16:
			return int64(n)
		case uint32:
			return int64(n)
		case *big.Int:
			if n.IsInt64() {
				return n.Int64()
			}
		}
		i, err := strconv.ParseInt(stringValue(v), 10, 64)
		if err != nil {
			return nil
		}
		return i
	case TypeDouble:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		}
		f, err := strconv.ParseFloat(stringValue(v), 64)
		if err != nil {
			return nil
		}
		return f
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return b
		}
		return []byte(stringValue(v))
	default:
		return stringValue(v)
	}
}
