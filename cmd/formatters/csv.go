package formatters

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVFormatter writes a header row followed by one record per row, in schema order
type CSVFormatter struct{}

func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// NewWriter writes the header immediately
func (f *CSVFormatter) NewWriter(w io.Writer, schema Schema) (StreamWriter, error) {
	columns := schema.Names()
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return &csvStreamWriter{writer: csvWriter, columns: columns}, nil
}

func (f *CSVFormatter) Extension() string {
	return ".csv"
}

func (f *CSVFormatter) MIMEType() string {
	return "text/csv"
}

type csvStreamWriter struct {
	writer  *csv.Writer
	columns []string
}

func (w *csvStreamWriter) WriteChunk(rows []map[string]interface{}) error {
	record := make([]string, len(w.columns))
	for _, row := range rows {
		for i, col := range w.columns {
			record[i] = stringValue(row[col])
		}
		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	return nil
}

// Close flushes buffered records
func (w *csvStreamWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}
