package formatters

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

const parquetReadBatch = 1000

// ParquetReader reads rows from a Parquet file. The file is buffered in memory since
// Parquet needs random access.
type ParquetReader struct {
	file    *parquet.File
	columns []string
	groups  []parquet.RowGroup
	rows    parquet.Rows
}

func NewParquetReader(r io.Reader) (*ParquetReader, error) {
	data, err := io.ReadAll(r)
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet data: %w", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	var columns []string
	for _, path := range file.Schema().Columns() {
		if len(path) > 0 {
			columns = append(columns, path[len(path)-1])
		}
	}
	return &ParquetReader{file: file, columns: columns, groups: file.RowGroups()}, nil
}

// Columns returns the leaf column names in file order
func (r *ParquetReader) Columns() []string {
	return r.columns
}

// ReadChunk reads up to chunkSize rows; an empty result means the file is exhausted
func (r *ParquetReader) ReadChunk(chunkSize int) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	batch := make([]parquet.Row, parquetReadBatch)

	for chunkSize <= 0 || len(out) < chunkSize {
		if r.rows == nil {
			if len(r.groups) == 0 {
				break
			}
			r.rows = r.groups[0].Rows()
			r.groups = r.groups[1:]
		}

		want := len(batch)
		if chunkSize > 0 && chunkSize-len(out) < want {
			want = chunkSize - len(out)
		}
		n, err := r.rows.ReadRows(batch[:want])
		for _, row := range batch[:n] {
			out = append(out, r.toMap(row))
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			r.rows.Close()
			r.rows = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return out, nil
}

func (r *ParquetReader) ReadAll() ([]map[string]interface{}, error) {
	return r.ReadChunk(0)
}

func (r *ParquetReader) toMap(row parquet.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(r.columns))
	for _, val := range row {
		idx := val.Column()
		if idx < 0 || idx >= len(r.columns) {
			continue
		}
		name := r.columns[idx]
		if val.IsNull() {
			out[name] = nil
			continue
		}
		switch val.Kind() {
		case parquet.Boolean:
			out[name] = val.Boolean()
		case parquet.Int32:
			out[name] = int64(val.Int32())
		case parquet.Int64:
			out[name] = val.Int64()
		case parquet.Float:
			out[name] = float64(val.Float())
		case parquet.Double:
			out[name] = val.Double()
		default:
			out[name] = string(val.ByteArray())
		}
	}
	return out
}

func (r *ParquetReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}
