package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/formatters"
	"github.com/airframesio/data-differ/cmd/sqlgen"
	"github.com/airframesio/data-differ/cmd/validate"
)

const summarizeChunkSize = 10000

var ErrRowStatusMissing = errors.New("file has no " + sqlgen.RowStatusColumn + " column")

var (
	sqlCount   bool
	sqlModulus int64
	sqlBucket  int64
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Compare the schemas of both sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		config := loadConfig()
		initLogger(config.Debug, config.LogFormat, os.Stderr)
		if err := config.validateBackend(); err != nil {
			return err
		}

		_, db, res, err := prepare(commandContext(), config)
		if err != nil {
			return err
		}
		defer db.Close()
		return renderSchema(os.Stdout, res, config.Render)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a comparison definition against both source schemas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		config := loadConfig()
		initLogger(config.Debug, config.LogFormat, os.Stderr)
		if err := config.validateBackend(); err != nil {
			return err
		}

		cmpCfg, db, res, err := prepare(commandContext(), config)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := validate.ConfigFor(db.Dialect().Name(), cmpCfg, res); err != nil {
			return err
		}

		compared := sqlgen.ComparedColumns(cmpCfg, res)
		fmt.Fprintln(os.Stdout, infoStyle.Render(fmt.Sprintf("✅ %s vs %s is valid", cmpCfg.SourceA.Label(), cmpCfg.SourceB.Label())))
		fmt.Fprintf(os.Stdout, "   join on %v, comparing %d column(s), algorithm %s\n",
			cmpCfg.JoinColumns, len(compared), cmpCfg.EffectiveAlgorithm())
		return nil
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "Print the diff query for a comparison without running it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		config := loadConfig()
		initLogger(config.Debug, config.LogFormat, os.Stderr)
		if err := config.validateBackend(); err != nil {
			return err
		}

		var scope *sqlgen.Scope
		if cmd.Flags().Changed("modulus") || cmd.Flags().Changed("bucket") {
			scope = sqlgen.BucketScope(sqlModulus, sqlBucket)
			if err := scope.Validate(); err != nil {
				return err
			}
		}

		cmpCfg, db, res, err := prepare(commandContext(), config)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := validate.ConfigFor(db.Dialect().Name(), cmpCfg, res); err != nil {
			return err
		}

		gen := sqlgen.New(db.Dialect())
		var query string
		if sqlCount {
			query, err = gen.GenerateCount(cmpCfg, res, scope)
		} else {
			query, err = gen.Generate(cmpCfg, res, scope)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, query)
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize FILE",
	Short: "Count row statuses in an exported diff file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		counts, total, err := summarizeFile(args[0])
		if err != nil {
			return err
		}
		return renderSummary(os.Stdout, args[0], counts, total, loadConfig().Render)
	},
}

func init() {
	sqlCmd.Flags().BoolVar(&sqlCount, "count", false, "print the status count query instead of the diff query")
	sqlCmd.Flags().Int64Var(&sqlModulus, "modulus", 1, "restrict the query to one hash bucket of this modulus")
	sqlCmd.Flags().Int64Var(&sqlBucket, "bucket", 0, "bucket index within --modulus")
}

// summarizeFile reads an exported diff, decompressing by extension, and counts rows per status
func summarizeFile(path string) (map[string]int64, int64, error) {
	compressor, base := compressors.FromPath(path)
	format, err := formatters.FormatFromPath(base)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rc, err := compressor.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	defer rc.Close()

	reader, err := formatters.GetReader(format, rc)
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	counts := make(map[string]int64)
	var total int64
	for {
		rows, err := reader.ReadChunk(summarizeChunkSize)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			status, ok := row[sqlgen.RowStatusColumn]
			if !ok {
				return nil, 0, ErrRowStatusMissing
			}
			counts[fmt.Sprint(status)]++
			total++
		}
	}
	return counts, total, nil
}

func renderSummary(w io.Writer, path string, counts map[string]int64, total int64, format string) error {
	if format == renderJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"file":         path,
			"rows":         total,
			"statusCounts": counts,
		})
	}

	fmt.Fprintln(w, headerStyle.Render(path))
	fmt.Fprintf(w, "  Rows:     %d\n", total)
	fmt.Fprintf(w, "  Statuses: %s\n", formatStatusCounts(counts))

	var unknown []string
	for status := range counts {
		switch status {
		case sqlgen.StatusAdded, sqlgen.StatusRemoved, sqlgen.StatusModified, sqlgen.StatusSame:
		default:
			unknown = append(unknown, status)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		fmt.Fprintf(w, "  %s\n", warnStyle.Render(fmt.Sprintf("⚠️  unexpected statuses: %v", unknown)))
	}
	return nil
}
