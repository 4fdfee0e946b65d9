package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/export"
	"github.com/airframesio/data-differ/cmd/formatters"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/data-differ/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context
	stopFilePath  string

	cfgFile   string
	debug     bool
	logFormat string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger = slog.Default()
)

// SetSignalContext stores the signal-aware context created in main()
func SetSignalContext(ctx context.Context, stopFile string) {
	signalContext = ctx
	stopFilePath = stopFile
}

// broadcastLogHandler wraps a slog handler and forwards records to the viewer
type broadcastLogHandler struct {
	handler slog.Handler
}

func newBroadcastLogHandler(handler slog.Handler) *broadcastLogHandler {
	return &broadcastLogHandler{handler: handler}
}

func (h *broadcastLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *broadcastLogHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case logBroadcast <- LogMessage{
		Timestamp: r.Time.Format("2006-01-02 15:04:05"),
		Level:     r.Level.String(),
		Message:   r.Message,
	}:
	default:
		// Nobody is draining (no viewer) or the viewer is behind
	}
	return h.handler.Handle(ctx, r)
}

func (h *broadcastLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &broadcastLogHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *broadcastLogHandler) WithGroup(name string) slog.Handler {
	return &broadcastLogHandler{handler: h.handler.WithGroup(name)}
}

// textOnlyHandler outputs human-readable text without key=value pairs, suitable for
// interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{opts: *opts, writer: w}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", r.Time.Format("2006-01-02 15:04:05"), r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// initLogger initializes the slog logger based on debug flag and log format.
// Logs go to w so that results on stdout stay machine readable.
func initLogger(isDebug bool, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = newTextOnlyHandler(w, opts)
	}

	logger = slog.New(newBroadcastLogHandler(handler))
}

var rootCmd = &cobra.Command{
	Use:     "data-differ",
	Version: Version,
	Short:   "🔍 Compare two large tables or queries and report row-level differences",
	Long: titleStyle.Render("Data Differ") + `

A CLI tool to diff two relational sources (tables or queries) on a shared SQL backend
(DuckDB, PostgreSQL or SQLite) without loading either side into memory.
The join-key space is partitioned into hash buckets that are split adaptively until each
diff query stays small. Results can be rendered, or exported as JSONL/CSV/Parquet
compressed with zstd/lz4/gzip to a directory or S3.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(summarizeCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.data-differ.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().StringP("comparison", "c", "", "comparison definition file (YAML or JSON)")
	rootCmd.PersistentFlags().String("driver", "duckdb", "backend driver: duckdb, postgres, sqlite3")
	rootCmd.PersistentFlags().String("dsn", "", "backend data source name (overrides the db-* flags)")
	rootCmd.PersistentFlags().String("db-host", "localhost", "PostgreSQL host")
	rootCmd.PersistentFlags().Int("db-port", 5432, "PostgreSQL port")
	rootCmd.PersistentFlags().String("db-user", "", "PostgreSQL user")
	rootCmd.PersistentFlags().String("db-password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-name", "", "PostgreSQL database name")
	rootCmd.PersistentFlags().String("db-sslmode", "disable", "PostgreSQL SSL mode (disable, require, verify-ca, verify-full)")
	rootCmd.PersistentFlags().Int("db-statement-timeout", 0, "PostgreSQL statement timeout in seconds (0 = no timeout)")
	rootCmd.PersistentFlags().String("format", renderText, "result format: text, json")
	rootCmd.PersistentFlags().Bool("no-cache", false, "always introspect sources instead of using the schema cache")

	// Compare flags
	compareCmd.Flags().Int64("row-threshold", engine.DefaultRowThreshold, "largest side count of a bucket before it is split")
	compareCmd.Flags().Int("max-depth", engine.DefaultMaxDepth, "number of splits after which oversized buckets run anyway")
	compareCmd.Flags().Int64("initial-modulus", engine.DefaultInitialModulus, "number of root buckets for hash-bucket runs (power of two)")
	compareCmd.Flags().Int("check-every", engine.DefaultCheckEvery, "diff rows read between cancellation checks")
	compareCmd.Flags().Bool("partial-on-failure", false, "keep rows of completed buckets when a query fails")
	compareCmd.Flags().Bool("keep-partial-on-cancel", true, "keep rows of completed buckets when cancelled")
	compareCmd.Flags().Bool("no-tui", false, "log progress instead of showing the interactive view")
	compareCmd.Flags().Bool("viewer", false, "serve live progress in the browser")
	compareCmd.Flags().Int("viewer-port", 8080, "port for the progress viewer")
	compareCmd.Flags().Int("limit", defaultLimit, "diff rows printed by the text format (0 = all)")
	compareCmd.Flags().String("output-dir", "", "write the diff and its metadata under this directory")
	compareCmd.Flags().String("output-format", formatters.FormatJSONL, "export format: jsonl, csv, parquet")
	compareCmd.Flags().String("compression", compressors.Zstd, "export compression: zstd, lz4, gzip, none")
	compareCmd.Flags().Int("compression-level", 0, "compression level (zstd: 1-22, lz4/gzip: 1-9, 0 = default)")
	compareCmd.Flags().String("path-template", export.DefaultPathTemplate, "export path with placeholders: {source_a}, {source_b}, {run}, {YYYY}, {MM}, {DD}, {HH}")
	compareCmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint URL")
	compareCmd.Flags().String("s3-bucket", "", "S3 bucket name (enables upload)")
	compareCmd.Flags().String("s3-access-key", "", "S3 access key")
	compareCmd.Flags().String("s3-secret-key", "", "S3 secret key")
	compareCmd.Flags().String("s3-region", regionAuto, "S3 region")

	// Note: flags are not marked required because viper may supply them from the config
	// file or environment. Validation happens in Config.Validate().
	for key, flag := range map[string]string{
		"debug":                     "debug",
		"log_format":                "log-format",
		"comparison":                "comparison",
		"backend.driver":            "driver",
		"backend.dsn":               "dsn",
		"backend.host":              "db-host",
		"backend.port":              "db-port",
		"backend.user":              "db-user",
		"backend.password":          "db-password",
		"backend.name":              "db-name",
		"backend.sslmode":           "db-sslmode",
		"backend.statement_timeout": "db-statement-timeout",
		"render":                    "format",
		"no_cache":                  "no-cache",
	} {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
	for key, flag := range map[string]string{
		"engine.row_threshold":          "row-threshold",
		"engine.max_depth":              "max-depth",
		"engine.initial_modulus":        "initial-modulus",
		"engine.check_every":            "check-every",
		"engine.partial_on_failure":     "partial-on-failure",
		"engine.keep_partial_on_cancel": "keep-partial-on-cancel",
		"no_tui":                        "no-tui",
		"viewer":                        "viewer",
		"viewer_port":                   "viewer-port",
		"limit":                         "limit",
		"output.directory":              "output-dir",
		"output.format":                 "output-format",
		"output.compression":            "compression",
		"output.compression_level":      "compression-level",
		"output.path_template":          "path-template",
		"s3.endpoint":                   "s3-endpoint",
		"s3.bucket":                     "s3-bucket",
		"s3.access_key":                 "s3-access-key",
		"s3.secret_key":                 "s3-secret-key",
		"s3.region":                     "s3-region",
	} {
		_ = viper.BindPFlag(key, compareCmd.Flags().Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".data-differ")
	}

	viper.SetEnvPrefix("DIFF")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		initLogger(debug, logFormat, os.Stderr)
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// envKeyReplacer maps nested keys to environment names, e.g. DIFF_BACKEND_DSN
var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// loadConfig assembles the configuration from flags, environment and config file
func loadConfig() *Config {
	return &Config{
		Debug:      viper.GetBool("debug"),
		LogFormat:  viper.GetString("log_format"),
		Comparison: viper.GetString("comparison"),
		NoTUI:      viper.GetBool("no_tui"),
		Viewer:     viper.GetBool("viewer"),
		ViewerPort: viper.GetInt("viewer_port"),
		Render:     viper.GetString("render"),
		Limit:      viper.GetInt("limit"),
		NoCache:    viper.GetBool("no_cache"),
		Backend: BackendConfig{
			Driver:           viper.GetString("backend.driver"),
			DSN:              viper.GetString("backend.dsn"),
			Host:             viper.GetString("backend.host"),
			Port:             viper.GetInt("backend.port"),
			User:             viper.GetString("backend.user"),
			Password:         viper.GetString("backend.password"),
			Name:             viper.GetString("backend.name"),
			SSLMode:          viper.GetString("backend.sslmode"),
			StatementTimeout: viper.GetInt("backend.statement_timeout"),
		},
		Engine: EngineConfig{
			RowThreshold:        viper.GetInt64("engine.row_threshold"),
			MaxDepth:            viper.GetInt("engine.max_depth"),
			InitialModulus:      viper.GetInt64("engine.initial_modulus"),
			CheckEvery:          viper.GetInt("engine.check_every"),
			PartialOnFailure:    viper.GetBool("engine.partial_on_failure"),
			KeepPartialOnCancel: viper.GetBool("engine.keep_partial_on_cancel"),
		},
		Output: OutputConfig{
			Directory:        viper.GetString("output.directory"),
			Format:           viper.GetString("output.format"),
			Compression:      viper.GetString("output.compression"),
			CompressionLevel: viper.GetInt("output.compression_level"),
			PathTemplate:     viper.GetString("output.path_template"),
		},
		S3: S3Config{
			Endpoint:  viper.GetString("s3.endpoint"),
			Bucket:    viper.GetString("s3.bucket"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
		},
	}
}

// commandContext returns the signal-aware context created in main()
func commandContext() context.Context {
	if signalContext != nil {
		return signalContext
	}
	return context.Background()
}
