package formatters

import (
	"encoding/json"
	"io"
	"time"
)

// JSONLFormatter writes one JSON object per row
type JSONLFormatter struct{}

func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{}
}

func (f *JSONLFormatter) NewWriter(w io.Writer, _ Schema) (StreamWriter, error) {
	return &jsonlStreamWriter{encoder: json.NewEncoder(w)}, nil
}

func (f *JSONLFormatter) Extension() string {
	return ".jsonl"
}

func (f *JSONLFormatter) MIMEType() string {
	return "application/x-ndjson"
}

type jsonlStreamWriter struct {
	encoder *json.Encoder
}

// WriteChunk encodes rows, one per line. Keys come out sorted.
func (w *jsonlStreamWriter) WriteChunk(rows []map[string]interface{}) error {
	for _, row := range rows {
		out := make(map[string]interface{}, len(row))
		for k, v := range row {
			out[k] = jsonValue(v)
		}
		if err := w.encoder.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op, JSONL has no footer
func (w *jsonlStreamWriter) Close() error {
	return nil
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64, time.Time:
		return val
	case []byte:
		return string(val)
	default:
		if _, err := json.Marshal(val); err == nil {
			return val
		}
		return stringValue(val)
	}
}
