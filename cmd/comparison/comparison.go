// Package comparison holds the plain-data description of a diff between two sources.
package comparison

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceType distinguishes table sources from raw query sources
type SourceType string

const (
	SourceTable SourceType = "table"
	SourceQuery SourceType = "query"
)

// FilterMode controls whether one filter applies to both sides or each side has its own
type FilterMode string

const (
	FilterCommon    FilterMode = "common"
	FilterPerSource FilterMode = "per-source"
)

// CompareMode controls how values are compared
type CompareMode string

const (
	CompareStrict CompareMode = "strict"
	CompareLoose  CompareMode = "loose"
)

// Algorithm selects how the join-key space is partitioned
type Algorithm string

const (
	AlgorithmFull       Algorithm = "full"
	AlgorithmHashBucket Algorithm = "hash-bucket"
	AlgorithmHashRange  Algorithm = "hash-range"
)

// Side names one of the two compared sources
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

var ErrUnknownSourceType = errors.New("unknown source type")

// Source is either a table reference or a raw SQL query with an alias
type Source struct {
	Type         SourceType `yaml:"type" json:"type"`
	DatabaseName string     `yaml:"databaseName,omitempty" json:"databaseName,omitempty"`
	SchemaName   string     `yaml:"schemaName,omitempty" json:"schemaName,omitempty"`
	TableName    string     `yaml:"tableName,omitempty" json:"tableName,omitempty"`
	SQL          string     `yaml:"sql,omitempty" json:"sql,omitempty"`
	Alias        string     `yaml:"alias,omitempty" json:"alias,omitempty"`
}

// Table builds a table source
func Table(schemaName, tableName string) Source {
	return Source{Type: SourceTable, SchemaName: schemaName, TableName: tableName}
}

// Query builds a query source
func Query(sql, alias string) Source {
	return Source{Type: SourceQuery, SQL: sql, Alias: alias}
}

// Equal reports whether two sources refer to the same data. Table names compare
// case-insensitively; query sources must match alias and SQL text exactly.
func (s Source) Equal(o Source) bool {
	if s.Type != o.Type {
		return false
	}
	switch s.Type {
	case SourceTable:
		return strings.EqualFold(s.DatabaseName, o.DatabaseName) &&
			strings.EqualFold(s.SchemaName, o.SchemaName) &&
			strings.EqualFold(s.TableName, o.TableName)
	case SourceQuery:
		return s.Alias == o.Alias && s.SQL == o.SQL
	default:
		return false
	}
}

// Key returns a canonical identity string, stable across equal sources
func (s Source) Key() string {
	switch s.Type {
	case SourceTable:
		parts := []string{s.DatabaseName, s.SchemaName, s.TableName}
		for i := range parts {
			parts[i] = strings.ToLower(parts[i])
		}
		return "table:" + strings.Join(parts, ".")
	case SourceQuery:
		return fmt.Sprintf("query:%s:%s", s.Alias, s.SQL)
	default:
		return string(s.Type)
	}
}

// Label is a short human-readable name used in logs and file names
func (s Source) Label() string {
	if s.Type == SourceQuery {
		return s.Alias
	}
	var parts []string
	for _, p := range []string{s.DatabaseName, s.SchemaName, s.TableName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Validate checks that the source carries the fields its type requires
func (s Source) Validate() error {
	switch s.Type {
	case SourceTable:
		if strings.TrimSpace(s.TableName) == "" {
			return errors.New("table source requires a table name")
		}
	case SourceQuery:
		if strings.TrimSpace(s.SQL) == "" {
			return errors.New("query source requires SQL text")
		}
		if strings.TrimSpace(s.Alias) == "" {
			return errors.New("query source requires an alias")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSourceType, s.Type)
	}
	return nil
}

// Config describes one comparison. The engine copies it before a run starts.
type Config struct {
	SourceA Source `yaml:"sourceA" json:"sourceA"`
	SourceB Source `yaml:"sourceB" json:"sourceB"`

	JoinColumns     []string          `yaml:"joinColumns" json:"joinColumns"`
	JoinKeyMappings map[string]string `yaml:"joinKeyMappings,omitempty" json:"joinKeyMappings,omitempty"`

	// CompareColumns restricts the compared columns. Nil means every common non-key column.
	CompareColumns  []string          `yaml:"compareColumns,omitempty" json:"compareColumns,omitempty"`
	ColumnMappings  map[string]string `yaml:"columnMappings,omitempty" json:"columnMappings,omitempty"`
	ExcludedColumns []string          `yaml:"excludedColumns,omitempty" json:"excludedColumns,omitempty"`

	FilterMode   FilterMode `yaml:"filterMode,omitempty" json:"filterMode,omitempty"`
	CommonFilter string     `yaml:"commonFilter,omitempty" json:"commonFilter,omitempty"`
	FilterA      string     `yaml:"filterA,omitempty" json:"filterA,omitempty"`
	FilterB      string     `yaml:"filterB,omitempty" json:"filterB,omitempty"`

	ShowOnlyDifferences bool        `yaml:"showOnlyDifferences" json:"showOnlyDifferences"`
	CompareMode         CompareMode `yaml:"compareMode,omitempty" json:"compareMode,omitempty"`
	Algorithm           Algorithm   `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
}

// BJoinName returns the B-side name of a join column
func (c *Config) BJoinName(col string) string {
	if mapped, ok := c.JoinKeyMappings[col]; ok && mapped != "" {
		return mapped
	}
	return col
}

// BColumnName returns the B-side name of a compared column
func (c *Config) BColumnName(col string) string {
	if mapped, ok := c.ColumnMappings[col]; ok && mapped != "" {
		return mapped
	}
	return col
}

// Filter returns the filter expression applied to the given side
func (c *Config) Filter(side Side) string {
	if c.EffectiveFilterMode() == FilterPerSource {
		if side == SideA {
			return c.FilterA
		}
		return c.FilterB
	}
	return c.CommonFilter
}

// Source returns the source for the given side
func (c *Config) Source(side Side) Source {
	if side == SideA {
		return c.SourceA
	}
	return c.SourceB
}

func (c *Config) EffectiveFilterMode() FilterMode {
	if c.FilterMode == "" {
		return FilterCommon
	}
	return c.FilterMode
}

func (c *Config) EffectiveCompareMode() CompareMode {
	if c.CompareMode == "" {
		return CompareStrict
	}
	return c.CompareMode
}

func (c *Config) EffectiveAlgorithm() Algorithm {
	if c.Algorithm == "" {
		return AlgorithmFull
	}
	return c.Algorithm
}

// IsExcluded reports whether col is in ExcludedColumns
func (c *Config) IsExcluded(col string) bool {
	for _, ex := range c.ExcludedColumns {
		if ex == col {
			return true
		}
	}
	return false
}

// IsJoinColumn reports whether col is one of the join columns (A-side naming)
func (c *Config) IsJoinColumn(col string) bool {
	for _, jc := range c.JoinColumns {
		if jc == col {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a running comparison is isolated from later edits
func (c *Config) Clone() *Config {
	out := *c
	out.JoinColumns = cloneSlice(c.JoinColumns)
	out.CompareColumns = cloneSlice(c.CompareColumns)
	out.ExcludedColumns = cloneSlice(c.ExcludedColumns)
	out.JoinKeyMappings = cloneMap(c.JoinKeyMappings)
	out.ColumnMappings = cloneMap(c.ColumnMappings)
	return &out
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Load reads a comparison config from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read comparison config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON, which is valid YAML) comparison config
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse comparison config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal comparison config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
