package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/export"
	"github.com/airframesio/data-differ/cmd/reporter"
	"github.com/airframesio/data-differ/cmd/schema"
	"github.com/airframesio/data-differ/cmd/validate"
)

const exitInterrupted = 130

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run a comparison and report the differences",
	Long: `Run the comparison described by --comparison against the configured backend.
Progress is shown interactively (or logged with --no-tui). Press 'f' or touch the stop file
to finish early with partial results, 'q' or CTRL-C to cancel.`,
	Run: func(_ *cobra.Command, _ []string) {
		runCompare()
	},
}

func runCompare() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig()
	interactive := !config.NoTUI && config.Render == renderText && term.IsTerminal(int(os.Stdout.Fd()))

	// The TUI owns the terminal; logs still reach the viewer through the broadcast handler
	var logOut io.Writer = os.Stderr
	if interactive {
		logOut = io.Discard
	}
	initLogger(config.Debug, config.LogFormat, logOut)

	logger.Info("")
	logger.Info(fmt.Sprintf("🔍 Data Differ v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if config.Debug && stopFilePath != "" && !interactive {
		fmt.Fprintln(os.Stderr, "\n"+infoStyle.Render("💡 To finish early with partial results, run:"))
		fmt.Fprintf(os.Stderr, "   "+infoStyle.Render("touch %s")+"\n\n", stopFilePath)
	}

	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}

	res, err := executeComparison(commandContext(), config, os.Stdout, interactive)
	os.Exit(exitCode(res, err))
}

// exitCode maps the outcome of a comparison to the process exit status
func exitCode(res *engine.Result, err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case err != nil:
		return 1
	case res == nil:
		return 1
	case res.Metadata.Stage == reporter.StageCancelled:
		return exitInterrupted
	case res.Metadata.Stage == reporter.StageFailed:
		return 1
	default:
		return 0
	}
}

// executeComparison runs one comparison end to end and writes the rendered result to out
func executeComparison(ctx context.Context, config *Config, out io.Writer, interactive bool) (*engine.Result, error) {
	cmpCfg, db, res, err := prepare(ctx, config)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		return nil, err
	}
	defer db.Close()

	eng, err := engine.New(db, config.EngineOptions(), logger)
	if err != nil {
		return nil, err
	}
	run, err := eng.Start(ctx, cmpCfg, res)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Comparison rejected: %s", err.Error()))
		return nil, err
	}

	if err := WritePIDFile(); err == nil {
		defer RemovePIDFile()
	}
	taskInfo := newTaskInfo(cmpCfg)
	defer RemoveTaskFile()

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	g, gctx := errgroup.WithContext(watchCtx)

	if stopFilePath != "" {
		g.Go(func() error {
			if err := watchStopFile(gctx, stopFilePath, run); err != nil {
				logger.Warn(fmt.Sprintf("⚠️  Stop file disabled: %s", err.Error()))
			}
			return nil
		})
	}
	if config.Viewer {
		g.Go(func() error {
			return newViewer(run).serve(gctx, config.ViewerPort)
		})
	}
	if interactive {
		g.Go(func() error {
			program := tea.NewProgram(newProgressModel(run, cmpCfg, taskInfo))
			if _, err := program.Run(); err != nil {
				run.RequestCancel()
				return fmt.Errorf("progress view failed: %w", err)
			}
			// Leaving the view early abandons the run
			select {
			case <-run.Done():
			default:
				run.RequestCancel()
			}
			return nil
		})
	} else {
		g.Go(func() error {
			logProgress(gctx, run, taskInfo)
			return nil
		})
	}

	<-run.Done()
	result, runErr := run.Wait(context.Background())
	stopWatching()
	if err := g.Wait(); err != nil {
		logger.Warn(fmt.Sprintf("⚠️  %s", err.Error()))
	}

	if result == nil {
		return nil, runErr
	}
	if result.Metadata.Stage == reporter.StageFailed {
		if err := staleSchemaError(ctx, config, db, cmpCfg); err != nil {
			logger.Error(fmt.Sprintf("❌ Sources changed since their schemas were cached: %s", err.Error()))
			return result, err
		}
	}
	if result.Metadata.Stage == reporter.StageCancelled {
		logger.Info("⚠️  Comparison cancelled by user")
	}

	if err := renderResult(out, result, config.Render, config.Limit); err != nil {
		return result, err
	}

	if config.ExportEnabled() && (result.Metadata.Stage == reporter.StageCompleted || result.Metadata.PartialResults) {
		output, err := export.Write(ctx, result, cmpCfg, config.ExportOptions(), logger)
		if err != nil {
			logger.Error(fmt.Sprintf("❌ Export failed: %s", err.Error()))
			return result, err
		}
		logger.Info(fmt.Sprintf("📁 Metadata written to %s", output.MetadataPath))
	}
	return result, runErr
}

// prepare loads the comparison definition, connects and reads both schemas
func prepare(ctx context.Context, config *Config) (*comparison.Config, *backend.DB, *schema.Result, error) {
	cmpCfg, err := comparison.Load(config.Comparison)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Debug(fmt.Sprintf("Connecting to %s...", config.RedactedDSN()))
	db, err := backend.Open(ctx, config.Backend.Driver, config.DSN())
	if err != nil {
		return nil, nil, nil, err
	}

	res, cached, err := loadSchema(ctx, config, db, cmpCfg, false)
	if err == nil && cached {
		if verr := validate.ConfigFor(db.Dialect().Name(), cmpCfg, res); verr != nil {
			logger.Debug(fmt.Sprintf("📋 Cached schemas reject the comparison (%s), reading them again", verr.Error()))
			res, _, err = loadSchema(ctx, config, db, cmpCfg, true)
		}
	}
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return cmpCfg, db, res, nil
}

// loadSchema introspects both sources, going through the schema cache unless disabled.
// With refresh set the cached entry is replaced.
func loadSchema(ctx context.Context, config *Config, b backend.Backend, cmpCfg *comparison.Config, refresh bool) (*schema.Result, bool, error) {
	key := schemaCacheKey(config.Backend.Driver+"|"+config.DSN(), cmpCfg.SourceA, cmpCfg.SourceB)

	var cache *SchemaCache
	if !config.NoCache {
		if c, err := loadSchemaCache(); err == nil {
			cache = c
			if res, ok := cache.get(key); ok && !refresh {
				logger.Debug("📋 Using cached schemas")
				return res, true, nil
			}
		}
	}

	start := time.Now()
	res, err := schema.NewIntrospector(b, logger).Compare(ctx, cmpCfg.SourceA, cmpCfg.SourceB)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", engine.ErrSchema, err)
	}
	logger.Debug(fmt.Sprintf("📋 Read schemas in %s: %d common, %d only in A, %d only in B",
		time.Since(start).Round(time.Millisecond), len(res.CommonColumns), len(res.OnlyInA), len(res.OnlyInB)))

	if cache != nil {
		cache.set(key, cmpCfg.SourceA, cmpCfg.SourceB, res)
		if err := cache.save(); err != nil {
			logger.Debug(fmt.Sprintf("Failed to save schema cache: %v", err))
		}
	}
	return res, false, nil
}

// staleSchemaError re-reads both schemas after a failed run and returns the validation
// error the fresh schemas produce, if any. A column dropped since the schemas were cached
// surfaces as a query failure otherwise.
func staleSchemaError(ctx context.Context, config *Config, db *backend.DB, cmpCfg *comparison.Config) error {
	if config.NoCache {
		return nil
	}
	res, _, err := loadSchema(ctx, config, db, cmpCfg, true)
	if err != nil {
		logger.Debug(fmt.Sprintf("Failed to re-read schemas after the failed run: %v", err))
		return nil
	}
	return validate.ConfigFor(db.Dialect().Name(), cmpCfg, res)
}

// logProgress is the non-interactive progress view: it logs bucket transitions and keeps
// the task file current
func logProgress(ctx context.Context, run progressSource, taskInfo *TaskInfo) {
	sub := run.Subscribe(16)
	defer sub.Close()

	var last reporter.Progress
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-sub.C():
			if !ok {
				return
			}
			taskInfo.apply(p)
			_ = WriteTaskInfo(taskInfo)

			if p.LastBucket != nil && p.CompletedBuckets > last.CompletedBuckets {
				logger.Info(fmt.Sprintf("  ✅ %s complete (%d/%d buckets, %d differences)",
					bucketLabel(p.LastBucket), p.CompletedBuckets, p.TotalBuckets, p.DiffRows))
			}
			if p.Stage == reporter.StageSplitting && p.TotalBuckets != last.TotalBuckets {
				logger.Debug(fmt.Sprintf("  ✂️  Split %s", bucketLabel(p.CurrentBucket)))
			}
			last = p
		}
	}
}
