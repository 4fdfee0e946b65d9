package engine

import (
	"sort"
	"time"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/reporter"
)

// SourceStats holds the filtered row counts of both sources
type SourceStats struct {
	RowsA int64 `json:"rowsA"`
	RowsB int64 `json:"rowsB"`
}

// Metadata describes how a result was produced
type Metadata struct {
	RunID               string               `json:"runId"`
	Algorithm           comparison.Algorithm `json:"algorithm"`
	Stage               reporter.Stage       `json:"stage"`
	SourceStats         SourceStats          `json:"sourceStats"`
	PartialResults      bool                 `json:"partialResults"`
	TotalBuckets        int                  `json:"totalBuckets"`
	CompletedBuckets    int                  `json:"completedBuckets"`
	ProcessedRows       int64                `json:"processedRows"`
	DiffRows            int64                `json:"diffRows"`
	StatusCounts        map[string]int64     `json:"statusCounts"`
	SoftLimitViolations int                  `json:"softLimitViolations"`
	Buckets             []Bucket             `json:"buckets,omitempty"`
	StartedAt           time.Time            `json:"startedAt"`
	FinishedAt          time.Time            `json:"finishedAt"`
	Error               string               `json:"error,omitempty"`
}

// Duration is the wall-clock time of the run
func (m Metadata) Duration() time.Duration {
	if m.FinishedAt.IsZero() {
		return 0
	}
	return m.FinishedAt.Sub(m.StartedAt)
}

// Result is the accumulated diff of a run. Rows hold only non-same rows.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	Metadata Metadata         `json:"metadata"`
}

// chunk is the diff output of one completed leaf bucket
type chunk struct {
	bucket Bucket
	rows   []map[string]any
}

// merge orders chunks by bucket and concatenates their rows
func merge(chunks []chunk) []map[string]any {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].bucket.before(chunks[j].bucket)
	})

	total := 0
	for _, c := range chunks {
		total += len(c.rows)
	}
	rows := make([]map[string]any, 0, total)
	for _, c := range chunks {
		rows = append(rows, c.rows...)
	}
	return rows
}
