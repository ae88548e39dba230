package pushdown

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// binding is the resolved remote origin of a data source.
type binding struct {
	remote bool
	table  string

	// inherited are operations of upstream sources whose pipelines run
	// entirely remotely; they are prepended to this source's query.
	inherited []queryir.Operation

	// start is the index of the first pipeline step after a table pointer.
	start int
}

// Builder translates pushable prefixes into query descriptors.
// A Builder is bound to one document and caches per-source analysis.
type Builder struct {
	doc          *vgspec.Document
	classifier   *Classifier
	refs         *refAnalyzer
	executorKind string
	log          *slog.Logger
	bindings     map[string]binding
}

// NewBuilder creates a builder for doc. executorKind is the transform type
// of executor steps; log may be nil.
func NewBuilder(doc *vgspec.Document, executorKind string, log *slog.Logger) *Builder {
	if executorKind == "" {
		executorKind = DefaultExecutorKind
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		doc:          doc,
		classifier:   NewClassifier(doc),
		refs:         newRefAnalyzer(doc, executorKind),
		executorKind: executorKind,
		log:          log,
		bindings:     make(map[string]binding),
	}
}

// Classifier returns the classifier shared by all pipelines of the document.
func (b *Builder) Classifier() *Classifier {
	return b.classifier
}

// Build translates prefix, the pushable prefix of ds's pipeline, into a
// descriptor. It fails with a ConfigurationError when ds has no usable
// remote binding, an UnsupportedOperationError when a step cannot be
// translated, and a ReferenceError when a field read downstream would be
// dropped by the query.
func (b *Builder) Build(ds vgspec.DataSource, prefix []vgspec.Transform) (queryir.Descriptor, error) {
	bind, err := b.resolve(ds.Name, nil)
	if err != nil {
		return queryir.Descriptor{}, err
	}
	if !bind.remote {
		return queryir.Descriptor{}, &ConfigurationError{
			Message: "data source has no remote table binding (relation, table pointer step, or remote source)",
		}
	}
	if len(prefix) == 0 || bind.start+len(prefix) > len(ds.Transforms) {
		return queryir.Descriptor{}, &UnsupportedOperationError{
			Step:    bind.start,
			Message: fmt.Sprintf("prefix of %d step(s) does not fit the pipeline", len(prefix)),
		}
	}

	scan := b.classifier.Scan(queryir.Produced(bind.inherited)...)
	ops := append([]queryir.Operation(nil), bind.inherited...)
	for i, t := range prefix {
		v := scan.Classify(t)
		if !v.Pushable {
			return queryir.Descriptor{}, &UnsupportedOperationError{
				Step:    bind.start + i,
				Type:    t.Type,
				Message: v.Reason,
			}
		}
		ops = append(ops, v.Op)
	}

	residual := ds.Transforms[bind.start+len(prefix):]
	req := b.refs.inputOf(residual, b.refs.downstream(ds.Name))

	desc := queryir.Descriptor{
		SourceTable: bind.table,
		Operations:  ops,
		Signals:     queryir.Produced(ops),
	}
	if err := b.project(ds.Name, &desc, req); err != nil {
		return queryir.Descriptor{}, err
	}

	if errs := queryir.Validate(desc, sortedNames(b.classifier.static)); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return queryir.Descriptor{}, &UnsupportedOperationError{
			Step:    bind.start,
			Type:    prefix[0].Type,
			Message: "invalid descriptor: " + strings.Join(msgs, "; "),
		}
	}
	return desc, nil
}

// project computes the output and dynamic columns of desc from the fields
// required downstream.
func (b *Builder) project(source string, desc *queryir.Descriptor, req fieldSet) error {
	lastAgg := -1
	for i, op := range desc.Operations {
		if _, ok := op.(queryir.Aggregate); ok {
			lastAgg = i
		}
	}

	if lastAgg >= 0 {
		return b.projectAggregate(source, desc, lastAgg, req)
	}

	touched := make(map[string]bool)
	dynamic := make(map[string]bool)
	add := func(f queryir.FieldRef) {
		if f.IsSignal() {
			dynamic[f.Signal] = true
		} else {
			touched[f.Name] = true
		}
	}
	for _, op := range desc.Operations {
		switch o := op.(type) {
		case queryir.Filter:
			scalarFields(o.Predicate, add)
		case queryir.Extent:
			add(o.Field)
		case queryir.Bin:
			add(o.Field)
			for _, c := range o.Columns() {
				touched[c] = true
			}
		}
	}

	wildcard := req.opaque
	for name := range req.fields {
		touched[name] = true
	}
	for s := range req.signals {
		if b.classifier.Static(s) {
			dynamic[s] = true
			continue
		}
		b.log.Debug("field chosen by client-only signal, projecting all columns",
			"source", source, "signal", s)
		wildcard = true
	}

	desc.DynamicColumns = sortedNames(dynamic)
	if wildcard || (len(touched) == 0 && len(dynamic) == 0) {
		desc.OutputColumns = []string{queryir.Wildcard}
		return nil
	}
	desc.OutputColumns = sortedNames(touched)
	return nil
}

func (b *Builder) projectAggregate(source string, desc *queryir.Descriptor, lastAgg int, req fieldSet) error {
	agg := desc.Operations[lastAgg].(queryir.Aggregate)

	produced := make(map[string]bool)
	keySignals := make(map[string]bool)
	for _, g := range agg.GroupBy {
		if g.IsSignal() {
			keySignals[g.Signal] = true
		} else {
			produced[g.Name] = true
		}
	}
	for _, m := range agg.Measures {
		produced[m.As] = true
	}
	for _, op := range desc.Operations[lastAgg+1:] {
		if bin, ok := op.(queryir.Bin); ok {
			for _, c := range bin.Columns() {
				produced[c] = true
			}
		}
	}

	var missing []string
	for _, name := range req.sortedFields() {
		if !produced[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		if len(keySignals) == 0 {
			return &ReferenceError{Missing: missing, Available: sortedNames(produced)}
		}
		b.log.Warn("fields read downstream may be missing after aggregate with signal-bound groupby",
			"source", source, "fields", missing)
	}
	for s := range req.signals {
		if !keySignals[s] {
			b.log.Warn("field chosen by signal may be missing after aggregate",
				"source", source, "signal", s)
		}
	}

	desc.OutputColumns = sortedNames(produced)
	desc.DynamicColumns = sortedNames(keySignals)
	return nil
}

// scalarFields reports every column a predicate reads.
func scalarFields(s queryir.Scalar, add func(queryir.FieldRef)) {
	switch e := s.(type) {
	case queryir.Column:
		add(e.Field)
	case queryir.Unary:
		scalarFields(e.X, add)
	case queryir.Binary:
		scalarFields(e.Left, add)
		scalarFields(e.Right, add)
	case queryir.IsNull:
		scalarFields(e.X, add)
	case queryir.Func:
		for _, a := range e.Args {
			scalarFields(a, add)
		}
	case queryir.Case:
		scalarFields(e.Test, add)
		scalarFields(e.Then, add)
		scalarFields(e.Else, add)
	}
}

// resolve finds the remote origin of the named data source. stack holds the
// sources being resolved, for cycle detection.
func (b *Builder) resolve(name string, stack []string) (binding, error) {
	if bind, ok := b.bindings[name]; ok {
		return bind, nil
	}
	for i, s := range stack {
		if s == name {
			cycle := append(append([]string(nil), stack[i:]...), name)
			return binding{}, &ConfigurationError{
				Message: "source references form a cycle: " + strings.Join(cycle, " -> "),
			}
		}
	}
	idx := b.doc.Lookup(name)
	if idx < 0 {
		return binding{}, &ConfigurationError{Message: fmt.Sprintf("unknown data source %q", name)}
	}

	bind, err := b.resolveSource(b.doc.Data[idx], append(stack, name))
	if err != nil {
		return binding{}, err
	}
	b.bindings[name] = bind
	return bind, nil
}

func (b *Builder) resolveSource(ds vgspec.DataSource, stack []string) (binding, error) {
	pointer, err := b.tablePointer(ds)
	if err != nil {
		return binding{}, err
	}

	if raw, ok := ds.Relation(); ok {
		table, err := relationName(raw, "relation")
		if err != nil {
			return binding{}, err
		}
		bind := binding{remote: true, table: table}
		if pointer != nil {
			if pointer.table != table {
				return binding{}, &ConfigurationError{Message: fmt.Sprintf(
					"relation %q conflicts with executor step relation %q", table, pointer.table)}
			}
			bind.start = 1
			bind.inherited = pointer.inherited
		}
		return bind, nil
	}
	if pointer != nil {
		return *pointer, nil
	}
	if ds.Origin() != vgspec.OriginSource {
		return binding{}, nil
	}

	names, ok := ds.SourceNames()
	if !ok {
		return binding{}, &ConfigurationError{Message: "source must be a data source name or a list of names"}
	}
	if len(names) != 1 {
		// A union of sources is not a single table.
		return binding{}, nil
	}
	upstream := names[0]
	if b.doc.Lookup(upstream) < 0 {
		return binding{}, &ConfigurationError{Message: fmt.Sprintf("source references unknown data source %q", upstream)}
	}
	up, err := b.resolve(upstream, stack)
	if err != nil {
		return binding{}, err
	}
	if !up.remote {
		return binding{}, nil
	}

	upDS := b.doc.Data[b.doc.Lookup(upstream)]
	part := Split(b.classifier.Scan(queryir.Produced(up.inherited)...), upDS.Transforms[up.start:])
	if len(part.Residual) > 0 {
		// The upstream's output is computed on the client.
		return binding{}, nil
	}
	inherited := append(append([]queryir.Operation(nil), up.inherited...), part.Ops...)
	return binding{remote: true, table: up.table, inherited: inherited}, nil
}

// tablePointer reads a leading executor step. Without a query it only
// names the table; with a query (an earlier rewrite) its operations are
// inherited.
func (b *Builder) tablePointer(ds vgspec.DataSource) (*binding, error) {
	if len(ds.Transforms) == 0 || ds.Transforms[0].Type != b.executorKind {
		return nil, nil
	}
	step := ds.Transforms[0]

	raw, ok := step.Params["relation"]
	if !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("%s step has no relation", b.executorKind)}
	}
	table, err := relationName(raw, b.executorKind+" relation")
	if err != nil {
		return nil, err
	}
	bind := &binding{remote: true, table: table, start: 1}

	if q, ok := step.Params["query"]; ok {
		desc, err := queryir.Decode(q)
		if err != nil {
			return nil, &ConfigurationError{Message: fmt.Sprintf("%s query: %v", b.executorKind, err)}
		}
		if desc.SourceTable != table {
			return nil, &ConfigurationError{Message: fmt.Sprintf(
				"%s query reads %q but relation is %q", b.executorKind, desc.SourceTable, table)}
		}
		bind.inherited = desc.Operations
	}
	return bind, nil
}

func relationName(raw any, what string) (string, error) {
	table, ok := raw.(string)
	if !ok {
		return "", &ConfigurationError{Message: fmt.Sprintf("%s must be a table name, got %T", what, raw)}
	}
	if strings.TrimSpace(table) == "" {
		return "", &ConfigurationError{Message: what + " is empty"}
	}
	return table, nil
}
