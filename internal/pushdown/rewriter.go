package pushdown

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// DefaultExecutorKind is the transform type of inserted executor steps.
const DefaultExecutorKind = "dbtransform"

// Executor step parameters.
const (
	ParamRelation = "relation"
	ParamQuery    = "query"
)

// Options configure a rewrite.
type Options struct {
	// ExecutorKind is the transform type of executor steps. The renderer
	// must have a transform of this type registered.
	ExecutorKind string

	// Exclude names data sources to leave unchanged. Callers use it to fall
	// back to client-side evaluation for sources that failed to rewrite.
	Exclude []string

	// Logger receives per-source decisions. Defaults to slog.Default().
	Logger *slog.Logger
}

// SourceReport records what the rewrite did to one data source.
type SourceReport struct {
	Source    string
	Rewritten bool

	// Pushed and Residual count the steps moved into the query and the
	// steps left on the client.
	Pushed   int
	Residual int

	// Reason explains why a source was left unchanged.
	Reason string

	Descriptor *queryir.Descriptor
}

// Plan is a rewritten document together with per-source reports.
type Plan struct {
	Document *vgspec.Document
	Sources  []SourceReport
}

// Rewritten returns the reports of the sources that were rewritten.
func (p *Plan) Rewritten() []SourceReport {
	var out []SourceReport
	for _, s := range p.Sources {
		if s.Rewritten {
			out = append(out, s)
		}
	}
	return out
}

// Rewriter replaces pushable transform prefixes with executor steps.
type Rewriter struct {
	kind    string
	exclude map[string]bool
	log     *slog.Logger
}

// NewRewriter creates a rewriter.
func NewRewriter(opts Options) *Rewriter {
	r := &Rewriter{
		kind:    opts.ExecutorKind,
		exclude: make(map[string]bool, len(opts.Exclude)),
		log:     opts.Logger,
	}
	if r.kind == "" {
		r.kind = DefaultExecutorKind
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	for _, name := range opts.Exclude {
		r.exclude[name] = true
	}
	return r
}

// Rewrite returns a new document in which every data source with a
// pushable, remotely bound prefix reads from an executor step followed by
// its residual steps. The input is not modified. Rewriting an already
// rewritten document returns an equal document.
func Rewrite(doc *vgspec.Document, opts Options) (*vgspec.Document, error) {
	plan, err := NewRewriter(opts).Plan(doc)
	if err != nil {
		return nil, err
	}
	return plan.Document, nil
}

// Rewrite is Plan without the reports.
func (r *Rewriter) Rewrite(doc *vgspec.Document) (*vgspec.Document, error) {
	plan, err := r.Plan(doc)
	if err != nil {
		return nil, err
	}
	return plan.Document, nil
}

// Plan rewrites doc and reports the decision made for each data source.
// Any failure aborts the whole rewrite with a *RewriteError naming the
// source; no partially rewritten document is returned.
func (r *Rewriter) Plan(doc *vgspec.Document) (*Plan, error) {
	builder := NewBuilder(doc, r.kind, r.log)
	out := doc.Clone()
	plan := &Plan{Document: out}

	for i, ds := range doc.Data {
		report, transforms, err := r.planSource(builder, ds)
		if err != nil {
			r.log.Debug("rewrite failed", "source", ds.Name, "error", err)
			return nil, &RewriteError{Source: ds.Name, Err: err}
		}
		if report.Rewritten {
			out.Data[i].Transforms = transforms
			r.log.Info("data source rewritten",
				"source", ds.Name,
				"table", report.Descriptor.SourceTable,
				"pushed", report.Pushed,
				"residual", report.Residual)
		} else {
			r.log.Debug("data source unchanged", "source", ds.Name, "reason", report.Reason)
		}
		plan.Sources = append(plan.Sources, report)
	}
	return plan, nil
}

func (r *Rewriter) planSource(builder *Builder, ds vgspec.DataSource) (SourceReport, []vgspec.Transform, error) {
	report := SourceReport{Source: ds.Name, Residual: len(ds.Transforms)}

	switch {
	case r.exclude[ds.Name]:
		report.Reason = "excluded"
		return report, nil, nil
	case len(ds.Transforms) == 0:
		report.Reason = "no transforms"
		return report, nil, nil
	}

	first := ds.Transforms[0]
	if first.Type == r.kind {
		if len(ds.Transforms) == 1 {
			report.Reason = "no transforms after " + r.kind + " step"
			return report, nil, nil
		}
	} else if first.Kind() == vgspec.KindCustom {
		report.Reason = fmt.Sprintf("first transform %q is not pushable", first.Type)
		return report, nil, nil
	}

	bind, err := builder.resolve(ds.Name, nil)
	if err != nil {
		return report, nil, err
	}
	if !bind.remote {
		report.Reason = "no remote table binding"
		return report, nil, nil
	}

	part := Split(builder.classifier.Scan(queryir.Produced(bind.inherited)...), ds.Transforms[bind.start:])
	if !part.Pushed() {
		report.Reason = part.Reason
		return report, nil, nil
	}

	desc, err := builder.Build(ds, part.Prefix)
	if err != nil {
		return report, nil, err
	}

	step := vgspec.Transform{
		Type: r.kind,
		Params: map[string]any{
			ParamRelation: desc.SourceTable,
			ParamQuery:    desc.Encode(),
		},
	}
	transforms := append([]vgspec.Transform{step}, part.Residual...)

	report.Rewritten = true
	report.Pushed = len(part.Prefix)
	report.Residual = len(part.Residual)
	report.Descriptor = &desc
	return report, transforms, nil
}

// PlanWithFallback rewrites doc, excluding each data source whose rewrite
// fails and retrying until the rewrite succeeds. It returns the plan and the
// failures that caused exclusions.
func PlanWithFallback(doc *vgspec.Document, opts Options) (*Plan, []error, error) {
	var failures []error
	exclude := append([]string(nil), opts.Exclude...)

	for attempt := 0; attempt <= len(doc.Data); attempt++ {
		o := opts
		o.Exclude = exclude
		plan, err := NewRewriter(o).Plan(doc)
		if err == nil {
			return plan, failures, nil
		}

		var re *RewriteError
		if !errors.As(err, &re) {
			return nil, failures, err
		}
		if o.Logger != nil {
			o.Logger.Warn("falling back to client-side evaluation", "source", re.Source, "error", re.Err)
		} else {
			slog.Warn("falling back to client-side evaluation", "source", re.Source, "error", re.Err)
		}
		failures = append(failures, err)
		exclude = append(exclude, re.Source)
	}
	return nil, failures, fmt.Errorf("rewrite did not converge after excluding %d data sources", len(failures))
}
