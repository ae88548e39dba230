package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Output   string
	Fallback bool
	Exclude  []string
}

// SourceSummary is the JSON form of a pushdown.SourceReport.
type SourceSummary struct {
	Source    string `json:"source"`
	Rewritten bool   `json:"rewritten"`
	Table     string `json:"table,omitempty"`
	Pushed    int    `json:"pushed"`
	Residual  int    `json:"residual"`
	Reason    string `json:"reason,omitempty"`
}

// RewriteResult is the JSON payload of the rewrite command.
type RewriteResult struct {
	Spec      map[string]any  `json:"spec"`
	Sources   []SourceSummary `json:"sources"`
	Fallbacks []string        `json:"fallbacks,omitempty"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <spec>",
		Short: "Rewrite a spec to push relational steps into the database",
		Long: `Rewrite a Vega spec (JSON, YAML or CUE). Every data source whose leading
steps can run remotely gets one executor step carrying the query; the
remaining steps stay on the client.

With --fallback, data sources whose rewrite fails are left unchanged
instead of failing the whole rewrite.

Example:
  vegaplus rewrite histogram.vg.json -o histogram.rewritten.json
  vegaplus rewrite --fallback --format json chart.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the rewritten spec to a file")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", false, "leave failing data sources unchanged")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "data sources to leave unchanged")

	return cmd
}

func runRewrite(opts *RewriteOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	doc, err := loadDocument(formatter, specPath)
	if err != nil {
		return err
	}

	rewriteOpts := cfg.RewriteOptions(log)
	rewriteOpts.Exclude = append(rewriteOpts.Exclude, opts.Exclude...)

	plan, failures, err := planRewrite(doc, rewriteOpts, opts.Fallback)
	if err != nil {
		return formatter.RewriteFailed(err)
	}
	for _, f := range failures {
		formatter.VerboseLog("fallback: %v", f)
	}

	if opts.Output != "" {
		var buf bytes.Buffer
		if err := plan.Document.WriteJSON(&buf, "  "); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
		if err := os.WriteFile(opts.Output, buf.Bytes(), 0644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
	}

	result := RewriteResult{
		Spec:    plan.Document.ToValue(),
		Sources: summarize(plan.Sources),
	}
	for _, f := range failures {
		if source, ok := pushdown.FailedSource(f); ok {
			result.Fallbacks = append(result.Fallbacks, source)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, s := range result.Sources {
		if s.Rewritten {
			formatter.VerboseLog("✓ %s: %d step(s) pushed to %q, %d residual", s.Source, s.Pushed, s.Table, s.Residual)
		} else {
			formatter.VerboseLog("- %s: %s", s.Source, s.Reason)
		}
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote rewritten spec to %s (%d data source(s) rewritten)\n",
			opts.Output, len(plan.Rewritten()))
		return nil
	}
	return plan.Document.WriteJSON(formatter.Writer, "  ")
}

// planRewrite rewrites doc, excluding failing data sources when fallback is set.
func planRewrite(doc *vgspec.Document, opts pushdown.Options, fallback bool) (*pushdown.Plan, []error, error) {
	if fallback {
		return pushdown.PlanWithFallback(doc, opts)
	}
	p, err := pushdown.NewRewriter(opts).Plan(doc)
	return p, nil, err
}

func summarize(reports []pushdown.SourceReport) []SourceSummary {
	out := make([]SourceSummary, len(reports))
	for i, r := range reports {
		out[i] = SourceSummary{
			Source:    r.Source,
			Rewritten: r.Rewritten,
			Pushed:    r.Pushed,
			Residual:  r.Residual,
			Reason:    r.Reason,
		}
		if r.Descriptor != nil {
			out[i].Table = r.Descriptor.SourceTable
		}
	}
	return out
}
