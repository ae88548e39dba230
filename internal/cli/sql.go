package cli

import (
	"fmt"
	"io"
	"maps"

	"github.com/spf13/cobra"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/querysql"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Dialect  string
	Signals  []string
	Fallback bool
}

// Statement is one compiled statement with its arguments.
type Statement struct {
	Signal string `json:"signal,omitempty"`
	SQL    string `json:"sql"`
	Args   []any  `json:"args"`
}

// CompiledSource is the SQL of one rewritten data source.
type CompiledSource struct {
	Source string      `json:"source"`
	Table  string      `json:"table"`
	Extents []Statement `json:"extents,omitempty"`
	Query  Statement   `json:"query"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <spec>",
		Short: "Print the SQL of every rewritten data source",
		Long: `Rewrite a spec and print the statements its executor steps run: one
query per extent and the final query.

Extents are not queried. Bin boundaries are computed from the extent given
with --signal, or from an empty extent, so only their arguments differ
from what query runs.

Example:
  vegaplus sql histogram.vg.json --dialect postgres
  vegaplus sql histogram.vg.json --signal extent=[0,3000] --signal maxbins=20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (sqlite|postgres); defaults to the default connection's")
	cmd.Flags().StringArrayVar(&opts.Signals, "signal", nil, "signal value as name=json (repeatable)")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", false, "leave failing data sources unchanged")

	return cmd
}

func runSQL(opts *SQLOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	overrides, err := parseSignals(opts.Signals)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	p, err := prepare(formatter, opts.RootOptions, specPath, opts.Fallback, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	dialect, err := sqlDialect(opts, p)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	signals := signalValues(p.doc, overrides)
	var compiled []CompiledSource
	for _, report := range p.plan.Rewritten() {
		cs, err := compileSource(dialect, *report.Descriptor, signals)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, fmt.Errorf("source %q: %w", report.Source, err))
		}
		cs.Source = report.Source
		compiled = append(compiled, cs)
	}

	if formatter.Format == "json" {
		return formatter.Success(compiled)
	}
	if len(compiled) == 0 {
		fmt.Fprintln(formatter.Writer, "-- no data source was rewritten")
		return nil
	}
	for i, cs := range compiled {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		writeCompiled(formatter.Writer, cs)
	}
	return nil
}

// sqlDialect is --dialect, or the dialect of the default connection.
func sqlDialect(opts *SQLOptions, p *prepared) (querysql.Dialect, error) {
	if opts.Dialect != "" {
		return querysql.ParseDialect(opts.Dialect)
	}
	_, conn, err := p.cfg.Connection("")
	if err != nil {
		return querysql.SQLite, nil
	}
	return conn.DialectOf(), nil
}

// compileSource compiles the extent queries and the final query of d. An
// extent signal without a value is bound to an empty extent.
func compileSource(dialect querysql.Dialect, d queryir.Descriptor, signals map[string]any) (CompiledSource, error) {
	bound := make(map[string]any, len(signals))
	maps.Copy(bound, signals)
	c := querysql.NewCompiler(dialect, bound)
	out := CompiledSource{Table: d.SourceTable}

	for i, op := range d.Operations {
		switch o := op.(type) {
		case queryir.Extent:
			if o.Signal == "" {
				continue
			}
			sql, args, err := c.CompileExtent(d, i)
			if err != nil {
				return out, err
			}
			out.Extents = append(out.Extents, Statement{Signal: o.Signal, SQL: sql, Args: args})
			if _, ok := bound[o.Signal]; !ok {
				bound[o.Signal] = []any{nil, nil}
			}
		case queryir.Bin:
			if o.Signal == "" {
				continue
			}
			bins, err := querysql.ResolveBins(o, bound)
			if err != nil {
				return out, fmt.Errorf("operations[%d]: %w", i, err)
			}
			bound[o.Signal] = bins.Value()
		}
	}

	sql, args, err := c.Compile(d)
	if err != nil {
		return out, err
	}
	out.Query = Statement{SQL: sql, Args: args}
	return out, nil
}

func writeCompiled(w io.Writer, cs CompiledSource) {
	fmt.Fprintf(w, "-- %s (table %q)\n", cs.Source, cs.Table)
	for _, p := range cs.Extents {
		fmt.Fprintf(w, "-- extent query for signal %q\n", p.Signal)
		writeStatement(w, p)
	}
	writeStatement(w, cs.Query)
}

func writeStatement(w io.Writer, s Statement) {
	fmt.Fprintf(w, "%s;\n", s.SQL)
	if len(s.Args) > 0 {
		fmt.Fprintf(w, "-- args: %v\n", s.Args)
	}
}
