package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/reporter"
	"github.com/airframesio/data-differ/cmd/schema"
	"github.com/airframesio/data-differ/cmd/sqlgen"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00")).Bold(true)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	statusOrder = []string{sqlgen.StatusAdded, sqlgen.StatusRemoved, sqlgen.StatusModified, sqlgen.StatusSame}
)

// bucketLabel names a bucket the way the logs and the TUI show it
func bucketLabel(ref *reporter.BucketRef) string {
	switch {
	case ref == nil:
		return ""
	case ref.End > 0:
		return fmt.Sprintf("range [%d, %d)", ref.Start, ref.End)
	case ref.Modulus <= 1:
		return "all keys"
	default:
		return fmt.Sprintf("bucket %d mod %d", ref.Index, ref.Modulus)
	}
}

// renderResult writes a result as JSON or as a text summary plus the first limit rows
func renderResult(w io.Writer, res *engine.Result, format string, limit int) error {
	if format == renderJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	md := res.Metadata
	fmt.Fprintln(w, headerStyle.Render("Comparison "+string(md.Stage)))
	fmt.Fprintf(w, "  Run:        %s (%s)\n", md.RunID, md.Algorithm)
	fmt.Fprintf(w, "  Rows:       A=%d  B=%d\n", md.SourceStats.RowsA, md.SourceStats.RowsB)
	fmt.Fprintf(w, "  Buckets:    %d/%d completed\n", md.CompletedBuckets, md.TotalBuckets)
	fmt.Fprintf(w, "  Statuses:   %s\n", formatStatusCounts(md.StatusCounts))
	fmt.Fprintf(w, "  Duration:   %s\n", md.Duration().Round(time.Millisecond))
	if md.PartialResults {
		fmt.Fprintln(w, "  ⚠️  Partial results: not every bucket was compared")
	}
	if md.SoftLimitViolations > 0 {
		fmt.Fprintf(w, "  ⚠️  %d bucket(s) exceeded the row threshold at max depth\n", md.SoftLimitViolations)
	}
	if md.Error != "" {
		fmt.Fprintf(w, "  ❌ %s\n", md.Error)
	}

	if len(res.Rows) == 0 {
		fmt.Fprintln(w, "\n  No differences")
		return nil
	}

	rows := res.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, rowsTable(res.Columns, rows))
	if len(rows) < len(res.Rows) {
		fmt.Fprintf(w, "  ... %d more row(s), use --limit 0 or --output-dir to see all\n", len(res.Rows)-len(rows))
	}
	return nil
}

// newTable pads every cell. Column widths are measured on the styled cells, and the
// table truncates each cell to one less than its column width.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers(headers...)
}

func rowsTable(columns []string, rows []map[string]any) string {
	t := newTable(columns...)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = cellValue(row[col])
		}
		t.Row(cells...)
	}
	return t.String()
}

func cellValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// formatStatusCounts lists counts in a fixed status order
func formatStatusCounts(counts map[string]int64) string {
	var parts []string
	seen := make(map[string]bool, len(counts))
	for _, status := range statusOrder {
		seen[status] = true
		if n, ok := counts[status]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", status, n))
		}
	}
	var rest []string
	for status := range counts {
		if !seen[status] {
			rest = append(rest, status)
		}
	}
	sort.Strings(rest)
	for _, status := range rest {
		parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "  ")
}

// renderSchema writes a schema comparison as JSON or as a column table
func renderSchema(w io.Writer, res *schema.Result, format string) error {
	if format == renderJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	t := newTable("column", "type A", "type B", "match")
	for _, c := range res.CommonColumns {
		match := "✓"
		if !c.TypesMatch {
			match = "✗"
		}
		t.Row(c.Name, c.TypeA, c.TypeB, match)
	}
	for _, name := range res.OnlyInA {
		t.Row(name, res.TypeA(name), "", "only A")
	}
	for _, name := range res.OnlyInB {
		t.Row(name, "", res.TypeB(name), "only B")
	}
	fmt.Fprintln(w, t.String())

	if len(res.SuggestedKeys) > 0 {
		fmt.Fprintf(w, "Suggested join keys: %s\n", strings.Join(res.SuggestedKeys, ", "))
	}
	if res.RowCountA != nil || res.RowCountB != nil {
		fmt.Fprintf(w, "Estimated rows: A=%s  B=%s\n", estimate(res.RowCountA), estimate(res.RowCountB))
	}
	return nil
}

func estimate(n *int64) string {
	if n == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *n)
}
