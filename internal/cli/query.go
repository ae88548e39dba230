package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/vegaplus/internal/executor"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Connection string
	Sources    []string
	Signals    []string
	Fallback   bool
}

// SourceRows is the query result of one rewritten data source.
type SourceRows struct {
	Source  string           `json:"source"`
	QueryID string           `json:"query_id"`
	Hash    string           `json:"descriptor_hash"`
	SQL     string           `json:"sql"`
	Signals map[string]any   `json:"signals,omitempty"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <spec>",
		Short: "Rewrite a spec and run its queries",
		Long: `Rewrite a spec and run the query of every rewritten data source on a
configured connection, the way the renderer's executor transform would.
Signals take their default values from the spec unless set with --signal.

Example:
  vegaplus query --config vegaplus.yaml histogram.vg.json
  vegaplus query histogram.vg.json --source table --signal maxbins=20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection to query (default: default_connection)")
	cmd.Flags().StringSliceVar(&opts.Sources, "source", nil, "only run these data sources")
	cmd.Flags().StringArrayVar(&opts.Signals, "signal", nil, "signal value as name=json (repeatable)")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", false, "leave failing data sources unchanged")

	return cmd
}

func runQuery(opts *QueryOptions, specPath string, cmd *cobra.Command) error {
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
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	p, err := prepare(formatter, opts.RootOptions, specPath, opts.Fallback, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reg := executor.NewRegistry()
	defer reg.Close()

	exec, err := openConnection(ctx, p.cfg, reg, opts.Connection, log)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnection, err)
	}

	signals := signalValues(p.doc, overrides)
	runner := executor.NewRunner(log)

	var results []SourceRows
	for _, report := range p.plan.Rewritten() {
		if len(opts.Sources) > 0 && !slices.Contains(opts.Sources, report.Source) {
			continue
		}
		res, err := runner.Run(ctx, exec, *report.Descriptor, signals)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, fmt.Errorf("source %q: %w", report.Source, err))
		}
		formatter.VerboseLog("%s: query %s returned %d row(s)", report.Source, res.QueryID, res.Rows.Len())
		results = append(results, SourceRows{
			Source:  report.Source,
			QueryID: res.QueryID,
			Hash:    res.DescriptorHash,
			SQL:     res.SQL,
			Signals: res.Signals,
			Columns: res.Rows.Columns,
			Rows:    res.Rows.Records(),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(formatter.Writer, "No data source was rewritten")
		return nil
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		writeRows(formatter.Writer, r)
	}
	return nil
}

// writeRows renders one source's rows as a table, preceded by the signals
// its query published.
func writeRows(w io.Writer, r SourceRows) {
	fmt.Fprintf(w, "%s (%d rows)\n", r.Source, len(r.Rows))
	for _, name := range sortedKeys(r.Signals) {
		fmt.Fprintf(w, "  %s = %v\n", name, r.Signals[name])
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(r.Columns)
	for _, rec := range r.Rows {
		row := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			row[i] = formatCell(rec[col])
		}
		table.Append(row)
	}
	table.Render()
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
