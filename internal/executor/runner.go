package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/vegaplus/internal/canonical"
	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/querysql"
)

// Result is the outcome of running a descriptor.
type Result struct {
	// QueryID identifies the run in logs.
	QueryID string

	// DescriptorHash is the content hash of the descriptor. Runs of equal
	// descriptors share it.
	DescriptorHash string

	// SQL and Args are the final statement.
	SQL  string
	Args []any

	// Signals holds the values published by the pushed steps: [min, max]
	// for extents and {start, stop, step} for bins.
	Signals map[string]any

	Rows *Rows
}

// QueryError attributes a database failure to a run and statement.
type QueryError struct {
	QueryID string
	SQL     string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.QueryID, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Runner evaluates descriptors.
type Runner struct {
	log *slog.Logger
}

// NewRunner creates a runner. A nil logger uses slog.Default().
func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log}
}

// Run evaluates d on exec. signals holds the values of the view signals the
// descriptor reads; it is not modified.
func (r *Runner) Run(ctx context.Context, exec Executor, d queryir.Descriptor, signals map[string]any) (*Result, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("query id: %w", err)
	}
	res := &Result{QueryID: id.String(), Signals: make(map[string]any)}
	log := r.log.With("query_id", res.QueryID, "table", d.SourceTable)
	if h, err := canonical.DescriptorHash(d.Encode()); err == nil {
		res.DescriptorHash = h
		log = log.With("descriptor", h[:12])
	}

	bound := make(map[string]any, len(signals))
	for k, v := range signals {
		bound[k] = v
	}
	compiler := querysql.NewCompiler(exec.Dialect(), bound)

	for i, op := range d.Operations {
		switch o := op.(type) {
		case queryir.Extent:
			if o.Signal == "" {
				continue
			}
			ext, err := r.queryExtent(ctx, log, exec, compiler, d, i, res.QueryID)
			if err != nil {
				return nil, err
			}
			bound[o.Signal] = ext
			res.Signals[o.Signal] = ext

		case queryir.Bin:
			if o.Signal == "" {
				continue
			}
			bins, err := querysql.ResolveBins(o, bound)
			if err != nil {
				return nil, fmt.Errorf("operations[%d]: %w", i, err)
			}
			bound[o.Signal] = bins.Value()
			res.Signals[o.Signal] = bins.Value()
		}
	}

	sql, args, err := compiler.Compile(d)
	if err != nil {
		return nil, err
	}
	res.SQL, res.Args = sql, args

	start := time.Now()
	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		log.Debug("query failed", "sql", sql, "error", err)
		return nil, &QueryError{QueryID: res.QueryID, SQL: sql, Err: err}
	}
	res.Rows = rows
	log.Info("query executed", "rows", rows.Len(), "elapsed", time.Since(start))
	return res, nil
}

// queryExtent returns [min, max] of the extent at operation i, or
// [nil, nil] when no row has a value.
func (r *Runner) queryExtent(ctx context.Context, log *slog.Logger, exec Executor, c *querysql.Compiler, d queryir.Descriptor, i int, id string) ([]any, error) {
	sql, args, err := c.CompileExtent(d, i)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, &QueryError{QueryID: id, SQL: sql, Err: err}
	}
	if rows.Len() != 1 || len(rows.Values[0]) != 2 {
		return nil, &QueryError{QueryID: id, SQL: sql, Err: fmt.Errorf("extent query returned %d rows", rows.Len())}
	}
	ext := []any{rows.Values[0][0], rows.Values[0][1]}
	log.Debug("extent resolved", "operation", i, "extent", ext)
	return ext, nil
}
