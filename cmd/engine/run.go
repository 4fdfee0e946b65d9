package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/reporter"
	"github.com/airframesio/data-differ/cmd/schema"
	"github.com/airframesio/data-differ/cmd/sqlgen"
)

var (
	errInterrupted    = errors.New("diff iteration interrupted")
	errNoStatusColumn = errors.New("diff query returned no row status column")
)

// Run is the handle of one comparison. It owns the progress reporter of the run.
type Run struct {
	id        string
	engine    *Engine
	cfg       *comparison.Config
	res       *schema.Result
	algorithm comparison.Algorithm
	roots     []Bucket
	logger    *slog.Logger
	reporter  *reporter.Reporter

	cancelQuery context.CancelFunc
	done        chan struct{}
	result      *Result
	err         error
}

func (r *Run) ID() string {
	return r.id
}

// RequestCancel stops the run and aborts the in-flight query
func (r *Run) RequestCancel() {
	r.reporter.RequestCancel()
	r.cancelQuery()
}

// RequestFinishEarly lets the current bucket complete, then stops with partial results.
// It returns ErrFinishEarlyUnsupported for the full algorithm.
func (r *Run) RequestFinishEarly() error {
	return r.reporter.RequestFinishEarly()
}

func (r *Run) Subscribe(buffer int) *reporter.Subscription {
	return r.reporter.Subscribe(buffer)
}

func (r *Run) SubscribeFunc(fn func(reporter.Progress)) func() {
	return r.reporter.SubscribeFunc(fn)
}

func (r *Run) Current() reporter.Progress {
	return r.reporter.Current()
}

// Done is closed once the run reached a terminal stage
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is done
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// state is the engine-side record behind the published snapshots
type state struct {
	progress     reporter.Progress
	current      *Bucket
	chunks       []chunk
	leaves       []Bucket
	columns      []string
	statusCounts map[string]int64
	stats        SourceStats
	softLimit    int
}

func (r *Run) execute(parent, ctx context.Context) {
	defer close(r.done)
	defer r.cancelQuery()

	opts := r.engine.opts
	st := &state{
		progress: reporter.Progress{
			RunID:               r.id,
			SupportsFinishEarly: r.algorithm != comparison.AlgorithmFull,
			StartedAt:           time.Now(),
		},
		columns:      sqlgen.OutputColumns(r.cfg, r.res),
		statusCounts: make(map[string]int64),
	}

	stack := make([]Bucket, 0, len(r.roots))
	for i := len(r.roots) - 1; i >= 0; i-- {
		stack = append(stack, r.roots[i])
	}
	st.progress.TotalBuckets = len(r.roots)

	r.logger.Info(fmt.Sprintf("🔍 Comparing %s with %s using %s", r.cfg.SourceA.Label(), r.cfg.SourceB.Label(), r.algorithm))
	r.publish(st, reporter.StageQueued)

	for len(stack) > 0 {
		if r.stopRequested(parent) {
			r.stop(parent, st)
			return
		}

		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		st.current = &b
		r.publish(st, reporter.StageCounting)

		var err error
		if b.CountA, err = r.engine.count(ctx, r.cfg, comparison.SideA, b); err != nil {
			r.abort(parent, st, err)
			return
		}
		if r.cancelRequested(parent) {
			r.stop(parent, st)
			return
		}
		if b.CountB, err = r.engine.count(ctx, r.cfg, comparison.SideB, b); err != nil {
			r.abort(parent, st, err)
			return
		}
		if b.Depth == 0 {
			st.stats.RowsA += b.CountA
			st.stats.RowsB += b.CountB
		}
		r.publish(st, reporter.StageSplitting)

		if r.shouldSplit(b) {
			left, right := b.Split()
			stack = append(stack, right, left)
			st.progress.TotalBuckets++
			r.logger.Debug(fmt.Sprintf("  Splitting %s (%d/%d rows) into %s and %s", b, b.CountA, b.CountB, left, right))
			continue
		}
		if r.algorithm != comparison.AlgorithmFull && b.Rows() > opts.RowThreshold {
			st.softLimit++
			r.logger.Warn(fmt.Sprintf("⚠️  %s holds %d rows at depth %d, above the %d row threshold. Processing it anyway.",
				b, b.Rows(), b.Depth, opts.RowThreshold))
		}

		if r.cancelRequested(parent) {
			r.stop(parent, st)
			return
		}
		r.publish(st, reporter.StageInserting)

		rows, err := r.diff(ctx, parent, st, b)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				r.stop(parent, st)
				return
			}
			r.abort(parent, st, err)
			return
		}

		st.chunks = append(st.chunks, chunk{bucket: b, rows: rows})
		st.leaves = append(st.leaves, b)
		st.progress.LastBucket = b.Ref()
		r.logger.Debug(fmt.Sprintf("  Completed %s: %d diff rows", b, len(rows)))
		if len(stack) == 0 {
			// the last leaf is counted with the terminal stage, which is the only stage
			// allowed to show every bucket completed
			break
		}
		st.progress.CompletedBuckets++
		next := stack[len(stack)-1]
		st.current = &next
		r.publish(st, reporter.StageBucketComplete)
	}

	st.current = nil
	r.publish(st, reporter.StageFinalizing)
	rows := merge(st.chunks)
	st.progress.CompletedBuckets = len(st.chunks)
	r.logger.Info(fmt.Sprintf("✅ Comparison complete: %d diff rows in %d buckets", st.progress.DiffRows, st.progress.CompletedBuckets))
	r.finish(st, reporter.StageCompleted, rows, nil)
}

func (r *Run) shouldSplit(b Bucket) bool {
	if r.algorithm == comparison.AlgorithmFull {
		return false
	}
	opts := r.engine.opts
	return b.Rows() > opts.RowThreshold && b.Depth < opts.MaxDepth && b.Splittable()
}

// cancelRequested is checked between backend calls inside a bucket
func (r *Run) cancelRequested(parent context.Context) bool {
	return r.reporter.StopMode() == reporter.StopCancel || parent.Err() != nil
}

// stopRequested is checked at bucket boundaries
func (r *Run) stopRequested(parent context.Context) bool {
	return r.reporter.StopMode() != reporter.StopNone || parent.Err() != nil
}

func (r *Run) stop(parent context.Context, st *state) {
	mode := r.reporter.StopMode()
	if mode == reporter.StopNone && parent.Err() != nil {
		mode = reporter.StopCancel
	}
	keep := mode == reporter.StopFinishEarly || r.engine.opts.KeepPartialOnCancel
	st.current = nil

	if len(st.chunks) == 0 || !keep {
		r.logger.Info(fmt.Sprintf("⚠️  Comparison cancelled after %d of %d buckets", len(st.chunks), st.progress.TotalBuckets))
		st.progress.DiffRows = 0
		st.statusCounts = make(map[string]int64)
		r.finish(st, reporter.StageCancelled, nil, nil)
		return
	}

	r.publish(st, reporter.StageFinalizing)
	r.logger.Info(fmt.Sprintf("⚠️  Comparison stopped (%s): keeping %d diff rows from %d of %d buckets",
		mode, st.progress.DiffRows, len(st.chunks), st.progress.TotalBuckets))
	r.finish(st, reporter.StagePartial, merge(st.chunks), nil)
}

// abort ends the run after a backend error. Errors caused by a cancel request are a
// cancellation, not a failure.
func (r *Run) abort(parent context.Context, st *state, err error) {
	if r.cancelRequested(parent) {
		r.logger.Debug(fmt.Sprintf("Query aborted after cancel request: %v", err))
		r.stop(parent, st)
		return
	}

	r.logger.Error(fmt.Sprintf("❌ Comparison failed on %s: %v", st.current, err))
	st.progress.Error = backend.Sanitize(err)
	st.current = nil

	var rows []map[string]any
	if r.engine.opts.PartialOnFailure && len(st.chunks) > 0 {
		rows = merge(st.chunks)
	} else {
		st.progress.DiffRows = 0
		st.statusCounts = make(map[string]int64)
	}
	r.finish(st, reporter.StageFailed, rows, fmt.Errorf("%w: %w", ErrBackend, err))
}

func (r *Run) finish(st *state, stage reporter.Stage, rows []map[string]any, err error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	st.progress.DiffRows = int64(len(rows))

	r.result = &Result{
		Columns: st.columns,
		Rows:    rows,
		Metadata: Metadata{
			RunID:               r.id,
			Algorithm:           r.algorithm,
			Stage:               stage,
			SourceStats:         st.stats,
			PartialResults:      stage == reporter.StagePartial || (stage == reporter.StageFailed && len(rows) > 0),
			TotalBuckets:        st.progress.TotalBuckets,
			CompletedBuckets:    st.progress.CompletedBuckets,
			ProcessedRows:       st.progress.ProcessedRows,
			DiffRows:            st.progress.DiffRows,
			StatusCounts:        st.statusCounts,
			SoftLimitViolations: st.softLimit,
			Buckets:             st.leaves,
			StartedAt:           st.progress.StartedAt,
			FinishedAt:          time.Now(),
			Error:               st.progress.Error,
		},
	}
	r.err = err
	r.publish(st, stage)
}

func (r *Run) publish(st *state, stage reporter.Stage) {
	st.progress.Stage = stage
	st.progress.UpdatedAt = time.Now()
	st.progress.CurrentBucket = nil
	if st.current != nil {
		st.progress.CurrentBucket = st.current.Ref()
	}
	r.reporter.Publish(st.progress)
}

// diff runs the comparison query of one leaf bucket and keeps its non-same rows. On any
// error the counters of the bucket are rolled back.
func (r *Run) diff(ctx, parent context.Context, st *state, b Bucket) ([]map[string]any, error) {
	query, err := r.engine.gen.Generate(r.cfg, r.res, b.Scope())
	if err != nil {
		return nil, err
	}

	diffBefore := st.progress.DiffRows
	processedBefore := st.progress.ProcessedRows
	bucketCounts := make(map[string]int64)
	rollback := func() {
		st.progress.DiffRows = diffBefore
		st.progress.ProcessedRows = processedBefore
		for status, n := range bucketCounts {
			st.statusCounts[status] -= n
		}
	}

	rows, err := r.engine.backend.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	statusIdx := -1
	for i, c := range cols {
		if c == sqlgen.RowStatusColumn {
			statusIdx = i
		}
	}
	if statusIdx < 0 {
		return nil, errNoStatusColumn
	}
	st.columns = cols

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	checkEvery := int64(r.engine.opts.CheckEvery)
	var out []map[string]any
	var read int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			rollback()
			return nil, err
		}
		read++
		st.progress.ProcessedRows++

		status := stringValue(values[statusIdx])
		if status != sqlgen.StatusSame {
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				row[c] = normalize(values[i])
			}
			out = append(out, row)
			st.progress.DiffRows++
			st.statusCounts[status]++
			bucketCounts[status]++
		}

		if read%checkEvery == 0 {
			r.publish(st, reporter.StageInserting)
			if r.cancelRequested(parent) {
				rollback()
				return nil, errInterrupted
			}
		}
	}
	if err := rows.Err(); err != nil {
		rollback()
		return nil, err
	}
	return out, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok && utf8.Valid(b) {
		return string(b)
	}
	return v
}
