package formatters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const maxJSONLLine = 16 * 1024 * 1024

// JSONLReader reads JSONL format (one JSON object per line)
type JSONLReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func NewJSONLReader(r io.Reader) *JSONLReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	reader := &JSONLReader{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	return reader
}

// ReadChunk reads up to chunkSize rows; an empty result means the stream is exhausted
func (r *JSONLReader) ReadChunk(chunkSize int) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	for (chunkSize <= 0 || len(rows) < chunkSize) && r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row map[string]interface{}
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}
		rows = append(rows, row)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return rows, nil
}

func (r *JSONLReader) ReadAll() ([]map[string]interface{}, error) {
	return r.ReadChunk(0)
}

func (r *JSONLReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
