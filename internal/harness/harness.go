package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vegaplus/internal/dataset"
	"github.com/roach88/vegaplus/internal/executor"
	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// Harness is the scenario execution engine.
type Harness struct {
	db     *executor.SQLite
	runner *executor.Runner
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and load the tables
// 2. Load and rewrite the spec
// 3. Run the query of every rewritten source
// 4. Evaluate assertions
//
// A returned error means the scenario could not be executed; failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger. A nil logger discards
// log output.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := executor.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	defer db.Close()

	h := &Harness{
		db:     db,
		runner: executor.NewRunner(logger),
		logger: logger,
	}

	if err := h.loadTables(ctx, scenario.Tables); err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}

	doc, err := vgspec.Load(scenario.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load spec: %w", err)
	}

	result := NewResult()
	plan, err := pushdown.NewRewriter(pushdown.Options{
		ExecutorKind: scenario.ExecutorKind,
		Logger:       logger,
	}).Plan(doc)
	if err != nil {
		code := pushdown.CodeOf(err)
		if code == "" {
			return nil, fmt.Errorf("failed to rewrite spec: %w", err)
		}
		result.RewriteError = string(code)
	} else if err := h.execute(ctx, doc, plan, scenario.Signals, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) loadTables(ctx context.Context, tables []TableSpec) error {
	for i, spec := range tables {
		var (
			tbl *dataset.Table
			err error
		)
		if spec.File != "" {
			tbl, err = dataset.ReadFile(spec.File)
		} else {
			var data []byte
			data, err = yaml.Marshal(&spec.Records)
			if err == nil {
				tbl, err = dataset.ReadRecords(data, spec.Name)
			}
		}
		if err != nil {
			return fmt.Errorf("tables[%d]: %w", i, err)
		}
		if spec.Name != "" {
			tbl.Name = spec.Name
		}
		if _, err := dataset.Load(ctx, h.db, tbl); err != nil {
			return fmt.Errorf("tables[%d]: %w", i, err)
		}
		h.logger.Debug("table loaded", "table", tbl.Name, "rows", len(tbl.Rows))
	}
	return nil
}

// execute runs the descriptor of every rewritten source with the spec's
// signal defaults, overridden by the scenario's signals.
func (h *Harness) execute(ctx context.Context, doc *vgspec.Document, plan *pushdown.Plan, overrides map[string]any, result *Result) error {
	signals := doc.SignalDefaults()
	for k, v := range overrides {
		signals[k] = vgspec.Normalize(v)
	}

	for _, report := range plan.Sources {
		out := Outcome{
			Source:    report.Source,
			Rewritten: report.Rewritten,
			Pushed:    report.Pushed,
			Residual:  report.Residual,
			Reason:    report.Reason,
		}
		if report.Rewritten {
			desc := *report.Descriptor
			res, err := h.runner.Run(ctx, h.db, desc, signals)
			if err != nil {
				return fmt.Errorf("source %q: %w", report.Source, err)
			}
			out.Table = desc.SourceTable
			out.Columns = res.Rows.Columns
			out.SQL = res.SQL
			out.Signals = res.Signals
			out.Rows = res.Rows.Records()
		}
		result.Sources = append(result.Sources, out)
	}
	return nil
}
