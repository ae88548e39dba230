package cli

import (
	"bytes"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/roach88/vegaplus/internal/vgspec"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Context  int
	Fallback bool
}

// DiffResult is the JSON payload of the diff command.
type DiffResult struct {
	Changed bool            `json:"changed"`
	Diff    string          `json:"diff"`
	Sources []SourceSummary `json:"sources"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <spec>",
		Short: "Show how the rewrite changes the data section of a spec",
		Long: `Rewrite a spec and print a unified diff of its data section before and
after the rewrite. Everything outside the data section is left unchanged
by the rewrite.

Example:
  vegaplus diff histogram.vg.json
  vegaplus diff --context 1 chart.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Context, "context", 3, "lines of context around each change")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", false, "leave failing data sources unchanged")

	return cmd
}

func runDiff(opts *DiffOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, err := prepare(formatter, opts.RootOptions, specPath, opts.Fallback, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	diff, err := dataDiff(p.doc, p.plan.Document, specPath, opts.Context)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeWriteFailed, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(DiffResult{
			Changed: diff != "",
			Diff:    diff,
			Sources: summarize(p.plan.Sources),
		})
	}
	if diff == "" {
		fmt.Fprintln(formatter.Writer, "No data source was rewritten")
		return nil
	}
	fmt.Fprint(formatter.Writer, diff)
	return nil
}

// dataDiff returns the unified diff of the indented data sections of two
// documents, or "" when they are equal.
func dataDiff(before, after *vgspec.Document, name string, context int) (string, error) {
	var a, b bytes.Buffer
	if err := vgspec.Write(&a, before.DataValue(), "  "); err != nil {
		return "", err
	}
	if err := vgspec.Write(&b, after.DataValue(), "  "); err != nil {
		return "", err
	}
	if a.String() == b.String() {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.String()),
		B:        difflib.SplitLines(b.String()),
		FromFile: name,
		ToFile:   name + " (rewritten)",
		Context:  context,
	})
}
