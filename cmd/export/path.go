package export

import (
	"regexp"
	"strings"
	"time"
)

// DefaultPathTemplate places each run under its source pair and date
const DefaultPathTemplate = "{source_a}_vs_{source_b}/{YYYY}/{MM}/{DD}/{run}"

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathVars are the values substituted into a path template
type PathVars struct {
	SourceA string
	SourceB string
	RunID   string
	Time    time.Time
}

// PathTemplate generates object keys and file paths from a template
type PathTemplate struct {
	template string
}

func NewPathTemplate(template string) *PathTemplate {
	if template == "" {
		template = DefaultPathTemplate
	}
	return &PathTemplate{template: template}
}

// Generate replaces placeholders in the template.
// Supports: {source_a}, {source_b}, {run}, {YYYY}, {MM}, {DD}, {HH}
func (pt *PathTemplate) Generate(vars PathVars) string {
	ts := vars.Time.UTC()
	result := strings.NewReplacer(
		"{source_a}", pathSegment(vars.SourceA),
		"{source_b}", pathSegment(vars.SourceB),
		"{run}", pathSegment(vars.RunID),
		"{YYYY}", ts.Format("2006"),
		"{MM}", ts.Format("01"),
		"{DD}", ts.Format("02"),
		"{HH}", ts.Format("15"),
	).Replace(pt.template)
	return strings.Trim(result, "/")
}

// pathSegment makes a source label safe to use as one path element
func pathSegment(s string) string {
	s = strings.Trim(unsafePathChars.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
