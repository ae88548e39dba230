package pushdown

import (
	"sort"
	"strings"

	"github.com/roach88/vegaplus/internal/vgexpr"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// fieldSet is what a consumer reads from a data source's tuples.
type fieldSet struct {
	fields  map[string]bool
	signals map[string]bool // signals whose value names a field

	// opaque is set when the reads cannot be listed, e.g. a tooltip showing
	// the whole datum or a transform this package does not model.
	opaque bool
}

func newFieldSet() fieldSet {
	return fieldSet{fields: make(map[string]bool), signals: make(map[string]bool)}
}

func (f *fieldSet) merge(o fieldSet) {
	for k := range o.fields {
		f.fields[k] = true
	}
	for k := range o.signals {
		f.signals[k] = true
	}
	f.opaque = f.opaque || o.opaque
}

func (f fieldSet) clone() fieldSet {
	out := newFieldSet()
	out.merge(f)
	return out
}

func (f fieldSet) sortedFields() []string {
	return sortedNames(f.fields)
}

func sortedNames(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// addFieldRef records a field parameter: a name, a signal naming a field,
// or a {"datum": ...} wrapper used by encodings.
func (f *fieldSet) addFieldRef(v any) {
	switch val := v.(type) {
	case nil:
	case string:
		if val != "" {
			f.fields[val] = true
		}
	case map[string]any:
		if expr, ok := vgspec.SignalRef(val); ok {
			f.addFieldSignal(expr)
			return
		}
		if inner, ok := val["datum"]; ok {
			f.addFieldRef(inner)
			return
		}
		if _, ok := val["group"]; ok {
			return
		}
		if _, ok := val["parent"]; ok {
			return
		}
		f.opaque = true
	default:
		f.opaque = true
	}
}

func (f *fieldSet) addFieldSignal(expr string) {
	node, err := vgexpr.Parse(expr)
	if err != nil {
		f.opaque = true
		return
	}
	root, path, ok := vgexpr.SignalPath(node)
	if !ok || len(path) > 0 {
		f.opaque = true
		return
	}
	f.signals[root] = true
}

// addFieldList records a field parameter that may be a single field or a list.
func (f *fieldSet) addFieldList(v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			f.addFieldRef(item)
		}
		return
	}
	f.addFieldRef(v)
}

// addExpr records the datum fields read by an expression.
func (f *fieldSet) addExpr(src string) {
	node, err := vgexpr.Parse(src)
	if err != nil {
		f.opaque = true
		return
	}
	refs := vgexpr.Analyze(node)
	for _, name := range refs.Fields {
		f.fields[name] = true
	}
	if refs.Opaque {
		f.opaque = true
	}
}

// addSortField records a comparator field, which may carry a "datum." prefix.
func (f *fieldSet) addSortField(v any) {
	sortObj, ok := v.(map[string]any)
	if !ok {
		return
	}
	add := func(item any) {
		if s, ok := item.(string); ok {
			f.addFieldRef(strings.TrimPrefix(s, vgexpr.DatumName+"."))
			return
		}
		f.addFieldRef(item)
	}
	if list, ok := sortObj["field"].([]any); ok {
		for _, item := range list {
			add(item)
		}
		return
	}
	if field, ok := sortObj["field"]; ok {
		add(field)
	}
}

// refAnalyzer computes which fields consumers read from each data source.
// Consumers are marks (including faceted and nested marks), scale domains,
// derived data sources and lookups.
type refAnalyzer struct {
	doc          *vgspec.Document
	executorKind string
	cache        map[string]fieldSet
	visiting     map[string]bool
}

func newRefAnalyzer(doc *vgspec.Document, executorKind string) *refAnalyzer {
	return &refAnalyzer{
		doc:          doc,
		executorKind: executorKind,
		cache:        make(map[string]fieldSet),
		visiting:     make(map[string]bool),
	}
}

// downstream returns the fields read from the output of data source name.
func (a *refAnalyzer) downstream(name string) fieldSet {
	if fs, ok := a.cache[name]; ok {
		return fs.clone()
	}
	if a.visiting[name] {
		return newFieldSet()
	}
	a.visiting[name] = true
	defer delete(a.visiting, name)

	req := newFieldSet()
	aliases := map[string]bool{name: true}
	a.walkMarks(a.doc.Members("marks"), aliases, false, &req)
	a.walkScales(a.doc.Members("scales"), aliases, &req)

	for _, ds := range a.doc.Data {
		if ds.Name != name {
			if names, _ := ds.SourceNames(); containsName(names, name) {
				req.merge(a.inputOf(ds.Transforms, a.downstream(ds.Name)))
			}
		}
		for _, t := range ds.Transforms {
			if t.Type == "lookup" && t.Params["from"] == name {
				req.addFieldRef(t.Params["key"])
				if values, ok := t.Params["values"]; ok {
					req.addFieldList(values)
				} else {
					req.opaque = true
				}
			}
		}
	}
	if a.readByExpression(name) {
		req.opaque = true
	}

	a.cache[name] = req.clone()
	return req
}

// readByExpression reports whether any expression reads the data source
// wholesale through data("name") or indata("name", ...).
func (a *refAnalyzer) readByExpression(name string) bool {
	needles := []string{"data('" + name + "'", `data("` + name + `"`}
	found := false
	var walk func(v any)
	walk = func(v any) {
		if found {
			return
		}
		switch val := v.(type) {
		case string:
			for _, n := range needles {
				if strings.Contains(val, n) {
					found = true
					return
				}
			}
		case []any:
			for _, e := range val {
				walk(e)
			}
		case map[string]any:
			for _, e := range val {
				walk(e)
			}
		}
	}
	for _, v := range a.doc.Props {
		walk(v)
	}
	for _, ds := range a.doc.Data {
		for _, t := range ds.Transforms {
			walk(t.Params)
		}
	}
	return found
}

// walkMarks collects reads of marks bound to any name in aliases.
// parentBound is set when the enclosing group's datum comes from the data
// source, so {"parent": field} references read it.
func (a *refAnalyzer) walkMarks(marks []any, aliases map[string]bool, parentBound bool, req *fieldSet) {
	for _, item := range marks {
		mark, ok := item.(map[string]any)
		if !ok {
			continue
		}
		from, _ := mark["from"].(map[string]any)

		bound := false
		if d, ok := from["data"].(string); ok && aliases[d] {
			bound = true
		}

		childAliases := aliases
		childParentBound := bound
		if facet, ok := from["facet"].(map[string]any); ok {
			if d, ok := facet["data"].(string); ok && aliases[d] {
				req.addFieldList(facet["groupby"])
				if agg, ok := facet["aggregate"].(map[string]any); ok {
					req.addFieldList(agg["fields"])
				}
				if fname, ok := facet["name"].(string); ok {
					childAliases = make(map[string]bool, len(aliases)+1)
					for k := range aliases {
						childAliases[k] = true
					}
					childAliases[fname] = true
				}
				childParentBound = true
			}
		}

		if bound || parentBound {
			a.encodeRefs(mark["encode"], bound, parentBound, req)
		}
		if bound {
			req.addSortField(mark["sort"])
		}

		nested, _ := mark["marks"].([]any)
		a.walkMarks(nested, childAliases, childParentBound, req)
		scales, _ := mark["scales"].([]any)
		a.walkScales(scales, childAliases, req)
	}
}

// encodeRefs walks encoding sets (enter, update, hover, ...) and their
// channels. datum selects reads of the mark's own tuples, parent reads of
// the enclosing group's datum.
func (a *refAnalyzer) encodeRefs(encode any, datum, parent bool, req *fieldSet) {
	sets, ok := encode.(map[string]any)
	if !ok {
		return
	}
	for _, set := range sets {
		channels, ok := set.(map[string]any)
		if !ok {
			continue
		}
		for _, ch := range channels {
			a.valueRefs(ch, datum, parent, req)
		}
	}
}

// valueRefs handles a value reference or a list of production rules.
func (a *refAnalyzer) valueRefs(v any, datum, parent bool, req *fieldSet) {
	switch val := v.(type) {
	case []any:
		for _, rule := range val {
			a.valueRefs(rule, datum, parent, req)
		}
	case map[string]any:
		for key, inner := range val {
			switch key {
			case "field":
				if parentRef, ok := inner.(map[string]any); ok {
					if p, ok := parentRef["parent"]; ok {
						if parent {
							req.addFieldRef(p)
						}
						continue
					}
				}
				if datum {
					req.addFieldRef(inner)
				}
			case "signal", "test":
				src, ok := inner.(string)
				if !ok {
					continue
				}
				if datum {
					req.addExpr(src)
				}
				if parent && readsParent(src) {
					req.opaque = true
				}
			default:
				if _, nested := inner.(map[string]any); nested {
					a.valueRefs(inner, datum, parent, req)
				}
			}
		}
	}
}

func readsParent(src string) bool {
	node, err := vgexpr.Parse(src)
	if err != nil {
		return true
	}
	for _, s := range vgexpr.Analyze(node).Signals {
		if s == "parent" {
			return true
		}
	}
	return false
}

// walkScales collects fields used by data-driven scale domains.
func (a *refAnalyzer) walkScales(scales []any, aliases map[string]bool, req *fieldSet) {
	for _, item := range scales {
		scale, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if domain, ok := scale["domain"].(map[string]any); ok {
			a.domainRefs(domain, aliases, req)
		}
	}
}

func (a *refAnalyzer) domainRefs(domain map[string]any, aliases map[string]bool, req *fieldSet) {
	if d, ok := domain["data"].(string); ok {
		if !aliases[d] {
			return
		}
		req.addFieldRef(domain["field"])
		if fields, ok := domain["fields"]; ok {
			req.addFieldList(fields)
		}
		req.addSortField(domain["sort"])
		return
	}
	if fields, ok := domain["fields"].([]any); ok {
		for _, f := range fields {
			if sub, ok := f.(map[string]any); ok {
				a.domainRefs(sub, aliases, req)
			}
		}
	}
}

// inputOf walks a pipeline backwards and returns the fields it needs from
// its input so that its output provides out.
func (a *refAnalyzer) inputOf(transforms []vgspec.Transform, out fieldSet) fieldSet {
	req := out.clone()
	for i := len(transforms) - 1; i >= 0; i-- {
		reads, produces, reshape := a.stepRefs(transforms[i])
		if reshape {
			req = newFieldSet()
		} else {
			for _, name := range produces {
				delete(req.fields, name)
			}
		}
		req.merge(reads)
	}
	return req
}

// stepRefs describes a transform step: the fields it reads, the fields it
// adds, and whether its output replaces its input tuples entirely.
func (a *refAnalyzer) stepRefs(t vgspec.Transform) (reads fieldSet, produces []string, reshape bool) {
	reads = newFieldSet()
	p := t.Params

	asList := func(defaults ...string) []string {
		if names, ok := vgspec.StringList(p["as"]); ok {
			return names
		}
		if s, ok := p["as"].(string); ok {
			return []string{s}
		}
		return defaults
	}
	expr := func(key string) {
		if src, ok := p[key].(string); ok {
			reads.addExpr(src)
		} else if _, present := p[key]; present {
			reads.opaque = true
		}
	}

	switch t.Type {
	case "filter":
		expr("expr")
	case "formula":
		expr("expr")
		produces = asList()
	case "extent":
		reads.addFieldRef(p["field"])
	case "bin":
		reads.addFieldRef(p["field"])
		produces = asList("bin0", "bin1")
	case "aggregate":
		reshape = true
		reads.addFieldList(p["groupby"])
		reads.addFieldList(p["fields"])
		reads.addFieldRef(p["key"])
	case "project":
		reshape = true
		reads.addFieldList(p["fields"])
	case "collect":
		reads.addSortField(p["sort"])
	case "identifier":
		produces = asList()
	case "sample":
	case "stack":
		reads.addFieldRef(p["field"])
		reads.addFieldList(p["groupby"])
		reads.addSortField(p["sort"])
		produces = asList("y0", "y1")
	case "window", "joinaggregate":
		reads.addFieldList(p["groupby"])
		reads.addFieldList(p["fields"])
		reads.addSortField(p["sort"])
		names, ok := measureOutputs(p)
		if !ok {
			reads.opaque = true
		}
		produces = names
	case "fold":
		reads.addFieldList(p["fields"])
		produces = asList("key", "value")
	case "lookup":
		reads.addFieldList(p["fields"])
		produces = asList()
		if values, ok := vgspec.StringList(p["values"]); ok && len(produces) == 0 {
			produces = values
		}
	case "timeunit":
		reads.addFieldRef(p["field"])
		produces = asList("unit0", "unit1")
	case "impute":
		reads.addFieldRef(p["field"])
		reads.addFieldRef(p["key"])
		reads.addFieldList(p["groupby"])
	case "pivot":
		reshape = true
		reads.addFieldList(p["groupby"])
		reads.addFieldRef(p["field"])
		reads.addFieldRef(p["value"])
	case a.executorKind:
		reshape = true
	default:
		reads.opaque = true
	}
	return reads, produces, reshape
}

// measureOutputs lists the fields a window or joinaggregate adds: the "as"
// entry when given, else op for a field-less op and op_field otherwise.
// It reports false when a name depends on a signal.
func measureOutputs(p map[string]any) ([]string, bool) {
	ops, _ := p["ops"].([]any)
	fields, _ := p["fields"].([]any)
	as, _ := p["as"].([]any)
	names := make([]string, 0, len(ops))
	for i, op := range ops {
		if i < len(as) {
			if name, ok := as[i].(string); ok {
				names = append(names, name)
				continue
			}
		}
		opName, ok := op.(string)
		if !ok {
			return names, false
		}
		var field any
		if i < len(fields) {
			field = fields[i]
		}
		switch f := field.(type) {
		case nil:
			names = append(names, opName)
		case string:
			names = append(names, opName+"_"+f)
		default:
			return names, false
		}
	}
	return names, true
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
