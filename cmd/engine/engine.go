// Package engine drives a comparison run: it partitions the join-key hash space, issues
// count and diff queries one at a time, splits oversized buckets and accumulates the diff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/reporter"
	"github.com/airframesio/data-differ/cmd/schema"
	"github.com/airframesio/data-differ/cmd/sqlgen"
	"github.com/airframesio/data-differ/cmd/validate"
)

// Defaults for partitioning
const (
	DefaultRowThreshold   int64 = 100000
	DefaultMaxDepth             = 8
	DefaultInitialModulus int64 = 1
	DefaultCheckEvery           = 1000

	maxDepthLimit     = 30
	maxInitialModulus = 1 << 16
)

// Static errors for engine setup and runs
var (
	ErrInvalidOptions = errors.New("invalid engine options")
	ErrNilConfig      = errors.New("comparison config is required")
	ErrSchema         = errors.New("failed to read source schemas")
	ErrBackend        = errors.New("backend query failed")

	ErrFinishEarlyUnsupported = reporter.ErrFinishEarlyUnsupported
)

// Options bounds the cost of a single backend operation. Start from DefaultOptions.
type Options struct {
	// RowThreshold is the largest side count a bucket may have before it is split
	RowThreshold int64
	// MaxDepth is the number of splits after which oversized buckets run anyway
	MaxDepth int
	// InitialModulus is the number of root buckets for hash-bucket runs, a power of two
	InitialModulus int64
	// CheckEvery is the number of diff rows read between in-query checkpoints
	CheckEvery int

	PartialOnFailure    bool
	KeepPartialOnCancel bool
}

func DefaultOptions() Options {
	return Options{
		RowThreshold:        DefaultRowThreshold,
		MaxDepth:            DefaultMaxDepth,
		InitialModulus:      DefaultInitialModulus,
		CheckEvery:          DefaultCheckEvery,
		KeepPartialOnCancel: true,
	}
}

// Validate checks option bounds
func (o Options) Validate() error {
	if o.RowThreshold < 1 {
		return fmt.Errorf("%w: row threshold must be >= 1, got %d", ErrInvalidOptions, o.RowThreshold)
	}
	if o.MaxDepth < 0 || o.MaxDepth > maxDepthLimit {
		return fmt.Errorf("%w: max depth must be between 0 and %d, got %d", ErrInvalidOptions, maxDepthLimit, o.MaxDepth)
	}
	if o.InitialModulus < 1 || o.InitialModulus > maxInitialModulus || o.InitialModulus&(o.InitialModulus-1) != 0 {
		return fmt.Errorf("%w: initial modulus must be a power of two between 1 and %d, got %d", ErrInvalidOptions, maxInitialModulus, o.InitialModulus)
	}
	if o.CheckEvery < 1 {
		return fmt.Errorf("%w: check interval must be >= 1, got %d", ErrInvalidOptions, o.CheckEvery)
	}
	return nil
}

// Engine runs comparisons against one backend
type Engine struct {
	backend backend.Backend
	gen     *sqlgen.Generator
	opts    Options
	logger  *slog.Logger
}

func New(b backend.Backend, opts Options, logger *slog.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: b,
		gen:     sqlgen.New(b.Dialect()),
		opts:    opts,
		logger:  logger,
	}, nil
}

func (e *Engine) Options() Options {
	return e.opts
}

// Start validates cfg and launches a run in the background. When res is nil both
// sources are introspected first. Configuration and schema errors are returned here and
// nothing is executed.
func (e *Engine) Start(ctx context.Context, cfg *comparison.Config, res *schema.Result) (*Run, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := validate.ConfigFor(e.backend.Dialect().Name(), cfg, res); err != nil {
		return nil, err
	}
	if res == nil {
		var err error
		res, err = schema.NewIntrospector(e.backend, e.logger).Compare(ctx, cfg.SourceA, cfg.SourceB)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchema, err)
		}
		if err := validate.ConfigFor(e.backend.Dialect().Name(), cfg, res); err != nil {
			return nil, err
		}
	}

	algorithm := cfg.EffectiveAlgorithm()
	modulus := int64(1)
	if algorithm == comparison.AlgorithmHashBucket {
		modulus = e.opts.InitialModulus
	}
	run := &Run{
		id:        uuid.NewString(),
		engine:    e,
		cfg:       cfg.Clone(),
		res:       res,
		algorithm: algorithm,
		roots:     rootBuckets(algorithm == comparison.AlgorithmHashRange, modulus),
		logger:    e.logger,
		done:      make(chan struct{}),
	}
	run.reporter = reporter.New(reporter.Progress{
		RunID:               run.id,
		Stage:               reporter.StageIdle,
		TotalBuckets:        len(run.roots),
		SupportsFinishEarly: algorithm != comparison.AlgorithmFull,
	})

	queryCtx, cancel := context.WithCancel(ctx)
	run.cancelQuery = cancel

	go run.execute(ctx, queryCtx)
	return run, nil
}

// Run executes a comparison and waits for its terminal stage. A cancelled run returns
// its result with a nil error.
func (e *Engine) Run(ctx context.Context, cfg *comparison.Config, res *schema.Result) (*Result, error) {
	run, err := e.Start(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	<-run.Done()
	return run.result, run.err
}

func (e *Engine) count(ctx context.Context, cfg *comparison.Config, side comparison.Side, b Bucket) (int64, error) {
	query, err := e.gen.GenerateSourceCount(cfg, side, b.Scope())
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := backend.QueryCount(ctx, e.backend, query)
	if err != nil {
		return 0, err
	}
	e.logger.Debug(fmt.Sprintf("  Counted %d rows in source %s for %s (%s)", n, side, b, time.Since(start).Round(time.Millisecond)))
	return n, nil
}
