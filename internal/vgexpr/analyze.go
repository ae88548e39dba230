package vgexpr

import "sort"

// DatumName is the identifier bound to the current data tuple.
const DatumName = "datum"

// Refs summarizes what an expression reads.
type Refs struct {
	// Fields are datum fields read with a constant name, sorted.
	Fields []string

	// Signals are the root names of signal references, sorted.
	Signals []string

	// Opaque is set when the expression reads the datum in a way whose
	// fields cannot be listed, e.g. datum[name] or passing datum whole.
	Opaque bool
}

// Analyze collects datum-field and signal references from n.
func Analyze(n Node) Refs {
	a := &analyzer{
		fields:  make(map[string]bool),
		signals: make(map[string]bool),
	}
	a.walk(n)

	return Refs{
		Fields:  sortedKeys(a.fields),
		Signals: sortedKeys(a.signals),
		Opaque:  a.opaque,
	}
}

type analyzer struct {
	fields  map[string]bool
	signals map[string]bool
	opaque  bool
}

func (a *analyzer) walk(n Node) {
	switch node := n.(type) {
	case Literal:
	case Ident:
		if node.Name == DatumName {
			a.opaque = true
			return
		}
		a.signals[node.Name] = true
	case Member:
		if id, ok := node.Object.(Ident); ok && id.Name == DatumName {
			a.fields[node.Property] = true
			return
		}
		a.walk(node.Object)
	case Index:
		if id, ok := node.Object.(Ident); ok && id.Name == DatumName {
			a.opaque = true
			a.walk(node.Key)
			return
		}
		a.walk(node.Object)
		a.walk(node.Key)
	case Unary:
		a.walk(node.X)
	case Binary:
		a.walk(node.Left)
		a.walk(node.Right)
	case Conditional:
		a.walk(node.Test)
		a.walk(node.Then)
		a.walk(node.Else)
	case Call:
		for _, arg := range node.Args {
			a.walk(arg)
		}
	case Array:
		for _, e := range node.Elems {
			a.walk(e)
		}
	}
}

// SignalPath flattens a signal reference such as bins.start or extent[0]
// into its root name and property path. ok is false for anything that is
// not a static access chain rooted at a non-datum identifier.
func SignalPath(n Node) (root string, path []string, ok bool) {
	switch node := n.(type) {
	case Ident:
		if node.Name == DatumName {
			return "", nil, false
		}
		return node.Name, nil, true
	case Member:
		root, path, ok := SignalPath(node.Object)
		if !ok {
			return "", nil, false
		}
		return root, append(path, node.Property), true
	default:
		return "", nil, false
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
