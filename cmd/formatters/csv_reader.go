package formatters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// CSVReader reads CSV with a header row. Empty fields read back as nil.
type CSVReader struct {
	reader  *csv.Reader
	closer  io.Closer
	headers []string
}

func NewCSVReader(r io.Reader) *CSVReader {
	reader := &CSVReader{reader: csv.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	return reader
}

func (r *CSVReader) readHeaders() error {
	if r.headers != nil {
		return nil
	}
	headers, err := r.reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	r.headers = headers
	return nil
}

// ReadChunk reads up to chunkSize rows; an empty result means the stream is exhausted
func (r *CSVReader) ReadChunk(chunkSize int) ([]map[string]interface{}, error) {
	if err := r.readHeaders(); err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	for chunkSize <= 0 || len(rows) < chunkSize {
		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		row := make(map[string]interface{}, len(r.headers))
		for i, value := range record {
			if i >= len(r.headers) {
				break
			}
			row[r.headers[i]] = convertValue(value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *CSVReader) ReadAll() ([]map[string]interface{}, error) {
	return r.ReadChunk(0)
}

func (r *CSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// convertValue restores numbers and booleans; everything else stays text
func convertValue(value string) interface{} {
	if value == "" {
		return nil
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
