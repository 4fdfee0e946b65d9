package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/export"
	"github.com/airframesio/data-differ/cmd/formatters"
)

// Static errors for configuration validation
var (
	ErrComparisonRequired      = errors.New("comparison file is required")
	ErrBackendDriverInvalid    = errors.New("backend driver must be one of: duckdb, postgres, sqlite3")
	ErrDatabaseUserRequired    = errors.New("database user is required")
	ErrDatabaseNameRequired    = errors.New("database name is required")
	ErrDatabasePortInvalid     = errors.New("database port must be between 1 and 65535")
	ErrStatementTimeoutInvalid = errors.New("database statement timeout must be >= 0")
	ErrEngineOptionsInvalid    = errors.New("engine options are invalid")
	ErrRenderFormatInvalid     = errors.New("render format must be one of: text, json")
	ErrOutputFormatInvalid     = errors.New("output format must be one of: jsonl, csv, parquet")
	ErrCompressionInvalid      = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip)")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrViewerPortInvalid       = errors.New("viewer port must be between 1 and 65535")
)

const (
	regionAuto   = "auto"
	renderText   = "text"
	renderJSON   = "json"
	defaultLimit = 50
)

type Config struct {
	Debug      bool
	LogFormat  string
	Comparison string // path to the comparison YAML/JSON file
	NoTUI      bool
	Viewer     bool
	ViewerPort int
	Render     string
	Limit      int // diff rows printed by the text renderer
	NoCache    bool
	Backend    BackendConfig
	Engine     EngineConfig
	Output     OutputConfig
	S3         S3Config
}

type BackendConfig struct {
	Driver           string
	DSN              string // used as-is when set
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	StatementTimeout int // seconds, PostgreSQL only (0 = no timeout)
}

type EngineConfig struct {
	RowThreshold        int64
	MaxDepth            int
	InitialModulus      int64
	CheckEvery          int
	PartialOnFailure    bool
	KeepPartialOnCancel bool
}

type OutputConfig struct {
	Directory        string
	Format           string
	Compression      string
	CompressionLevel int
	PathTemplate     string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

// isValidOutputFormat validates the output format
func isValidOutputFormat(format string) bool {
	_, err := formatters.GetFormatter(format)
	return format != "" && err == nil
}

// isValidCompression validates the compression type
func isValidCompression(compression string) bool {
	_, err := compressors.GetCompressor(compression)
	return compression != "" && err == nil
}

// isValidCompressionLevel validates compression level based on compression type.
// Level 0 selects the codec default.
func isValidCompressionLevel(compression string, level int) bool {
	if level == 0 {
		return true
	}
	switch compression {
	case compressors.Zstd:
		return level >= 1 && level <= 22
	case compressors.LZ4, compressors.Gzip:
		return level >= 1 && level <= 9
	default:
		return false
	}
}

// ExportEnabled reports whether the diff should be written anywhere
func (c *Config) ExportEnabled() bool {
	return c.Output.Directory != "" || c.S3.Bucket != ""
}

func (c *Config) Validate() error {
	if c.Comparison == "" {
		return ErrComparisonRequired
	}
	if err := c.validateBackend(); err != nil {
		return err
	}

	if err := c.EngineOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineOptionsInvalid, err)
	}

	if c.Render != renderText && c.Render != renderJSON {
		return fmt.Errorf("%w: '%s'", ErrRenderFormatInvalid, c.Render)
	}

	if c.ExportEnabled() {
		if !isValidOutputFormat(c.Output.Format) {
			return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.Output.Format)
		}
		if !isValidCompression(c.Output.Compression) {
			return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Output.Compression)
		}
		if !isValidCompressionLevel(c.Output.Compression, c.Output.CompressionLevel) {
			return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Output.Compression, c.Output.CompressionLevel)
		}
	}

	if c.S3.Bucket != "" {
		if c.S3.AccessKey == "" {
			return ErrS3AccessKeyRequired
		}
		if c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if c.S3.Region != "" && c.S3.Region != regionAuto && !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	if c.Viewer && (c.ViewerPort < 1 || c.ViewerPort > 65535) {
		return fmt.Errorf("%w, got %d", ErrViewerPortInvalid, c.ViewerPort)
	}
	return nil
}

// validateBackend checks the connection settings. The inspection commands (schema, sql,
// validate) call it alone since they ignore engine and output settings.
func (c *Config) validateBackend() error {
	if _, err := backend.GetDialect(c.Backend.Driver); err != nil {
		return fmt.Errorf("%w: '%s'", ErrBackendDriverInvalid, c.Backend.Driver)
	}
	if !c.isPostgres() || c.Backend.DSN != "" {
		return nil
	}

	if c.Backend.User == "" {
		return ErrDatabaseUserRequired
	}
	if c.Backend.Name == "" {
		return ErrDatabaseNameRequired
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return fmt.Errorf("%w, got %d", ErrDatabasePortInvalid, c.Backend.Port)
	}
	if c.Backend.StatementTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrStatementTimeoutInvalid, c.Backend.StatementTimeout)
	}
	return nil
}

func (c *Config) isPostgres() bool {
	d, err := backend.GetDialect(c.Backend.Driver)
	return err == nil && d.Name() == backend.DialectPostgres
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.Backend.DSN != "" || !c.isPostgres() {
		return c.Backend.DSN
	}

	sslMode := c.Backend.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Backend.Host, c.Backend.Port, c.Backend.User, quoteDSNValue(c.Backend.Password), c.Backend.Name, sslMode)
	if c.Backend.StatementTimeout > 0 {
		timeout := time.Duration(c.Backend.StatementTimeout) * time.Second
		dsn += fmt.Sprintf(" options='-c statement_timeout=%d'", timeout.Milliseconds())
	}
	return dsn
}

// RedactedDSN hides credentials for logging
func (c *Config) RedactedDSN() string {
	if c.isPostgres() && c.Backend.DSN == "" {
		return fmt.Sprintf("postgres://%s@%s:%d/%s", c.Backend.User, c.Backend.Host, c.Backend.Port, c.Backend.Name)
	}
	if u, err := url.Parse(c.Backend.DSN); err == nil && u.User != nil {
		return u.Redacted()
	}
	if c.Backend.DSN == "" {
		return c.Backend.Driver + " (in-memory)"
	}
	return c.Backend.DSN
}

func quoteDSNValue(v string) string {
	if v == "" {
		return "''"
	}
	for _, r := range v {
		if r == ' ' || r == '\'' || r == '\\' {
			return "'" + dsnEscaper.Replace(v) + "'"
		}
	}
	return v
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// EngineOptions maps the engine settings onto engine.Options
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		RowThreshold:        c.Engine.RowThreshold,
		MaxDepth:            c.Engine.MaxDepth,
		InitialModulus:      c.Engine.InitialModulus,
		CheckEvery:          c.Engine.CheckEvery,
		PartialOnFailure:    c.Engine.PartialOnFailure,
		KeepPartialOnCancel: c.Engine.KeepPartialOnCancel,
	}
}

// ExportOptions maps the output settings onto export.Options
func (c *Config) ExportOptions() export.Options {
	opts := export.Options{
		Format:       c.Output.Format,
		Compression:  c.Output.Compression,
		Level:        c.Output.CompressionLevel,
		Directory:    c.Output.Directory,
		PathTemplate: c.Output.PathTemplate,
	}
	if c.S3.Bucket != "" {
		opts.S3 = &export.S3Options{
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			Bucket:    c.S3.Bucket,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
		}
	}
	return opts
}
