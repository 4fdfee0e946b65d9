// Package formatters writes and reads diff rows as JSONL, CSV or Parquet streams.
package formatters

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strings"
	"time"
)

// Format names
const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// ColumnType is the storage type of an exported column
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt64
	TypeDouble
	TypeBool
	TypeBytes
)

// Column is one exported column
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered column list of an export
type Schema struct {
	Columns []Column
}

// Names returns the column names in order
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// InferSchema keeps the given column order and types each column by its first non-nil
// value. Columns that are always nil become strings.
func InferSchema(columns []string, rows []map[string]interface{}) Schema {
	schema := Schema{Columns: make([]Column, len(columns))}
	for i, name := range columns {
		schema.Columns[i] = Column{Name: name, Type: TypeString}
		for _, row := range rows {
			if v := row[name]; v != nil {
				schema.Columns[i].Type = typeOf(v)
				break
			}
		}
	}
	return schema
}

func typeOf(v interface{}) ColumnType {
	switch v.(type) {
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt64
	case float32, float64:
		return TypeDouble
	case []byte:
		return TypeBytes
	default:
		return TypeString
	}
}

// StreamWriter writes rows in chunks and finalizes the stream on Close
type StreamWriter interface {
	WriteChunk(rows []map[string]interface{}) error
	Close() error
}

// Formatter creates stream writers for one output format
type Formatter interface {
	NewWriter(w io.Writer, schema Schema) (StreamWriter, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv", ".parquet")
	Extension() string

	MIMEType() string
}

// GetFormatter returns the formatter for a format name
func GetFormatter(format string) (Formatter, error) {
	return GetFormatterWithCompression(format, "")
}

// GetFormatterWithCompression returns the formatter for a format name. Parquet
// compresses internally with the given codec; other formats ignore it.
func GetFormatterWithCompression(format, compression string) (Formatter, error) {
	switch format {
	case FormatJSONL, "":
		return NewJSONLFormatter(), nil
	case FormatCSV:
		return NewCSVFormatter(), nil
	case FormatParquet:
		return NewParquetFormatterWithCompression(compression), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// UsesInternalCompression returns true if the format handles compression internally
func UsesInternalCompression(format string) bool {
	return format == FormatParquet
}

// FormatFromPath returns the format named by a file extension
func FormatFromPath(path string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch ext {
	case FormatJSONL, FormatCSV, FormatParquet:
		return ext, nil
	case "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Reader reads rows back from an exported stream
type Reader interface {
	ReadChunk(chunkSize int) ([]map[string]interface{}, error)
	ReadAll() ([]map[string]interface{}, error)
	Close() error
}

// GetReader returns a reader for a format name
func GetReader(format string, r io.Reader) (Reader, error) {
	switch format {
	case FormatJSONL:
		return NewJSONLReader(r), nil
	case FormatCSV:
		return NewCSVReader(r), nil
	case FormatParquet:
		reader, err := NewParquetReader(r)
		if err != nil {
			return nil, err
		}
		return reader, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// stringValue renders a value for text formats
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case *big.Int:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
