package queryir

import "fmt"

// ValidationError describes one structural problem of a descriptor.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks that a descriptor is structurally complete and that each
// operation only reads signals that are bound before it runs. boundSignals
// lists the externally provided signal names; signals published by earlier
// operations are added during the walk.
//
// Validate is a pure function with no side effects.
func Validate(d Descriptor, boundSignals []string) []ValidationError {
	v := &validator{bound: make(map[string]bool)}
	for _, s := range boundSignals {
		v.bound[s] = true
	}

	if d.SourceTable == "" {
		v.add("sourceTable", "must not be empty")
	}
	if len(d.Operations) == 0 {
		v.add("operations", "must not be empty")
	}
	if len(d.OutputColumns) == 0 && len(d.DynamicColumns) == 0 {
		v.add("outputColumns", "must not be empty")
	}
	for i, op := range d.Operations {
		v.validateOperation(fmt.Sprintf("operations[%d]", i), op)
	}
	for _, s := range d.DynamicColumns {
		if !v.bound[s] {
			v.add("dynamicColumns", "signal %q is not bound", s)
		}
	}
	return v.errs
}

type validator struct {
	bound map[string]bool
	errs  []ValidationError
}

func (v *validator) add(path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) publish(path, signal string) {
	if signal == "" {
		return
	}
	if v.bound[signal] {
		v.add(path+".signal", "signal %q is already bound", signal)
	}
	v.bound[signal] = true
}

func (v *validator) validateOperation(path string, op Operation) {
	switch o := op.(type) {
	case Filter:
		if o.Predicate == nil {
			v.add(path+".predicate", "must not be empty")
			return
		}
		v.validateScalar(path+".predicate", o.Predicate)
	case Extent:
		v.validateField(path+".field", o.Field)
		v.publish(path, o.Signal)
	case Bin:
		v.validateField(path+".field", o.Field)
		if o.As[0] == "" || (o.As[1] == "" && len(o.Columns()) == 2) {
			v.add(path+".as", "output names must not be empty")
		}
		for _, p := range o.params() {
			if p.value.IsSignal() && !v.bound[p.value.Signal] {
				v.add(path+"."+p.key, "signal %q is not bound", p.value.Signal)
			}
		}
		v.publish(path, o.Signal)
	case Aggregate:
		seen := make(map[string]bool)
		for i, g := range o.GroupBy {
			gp := fmt.Sprintf("%s.groupby[%d]", path, i)
			v.validateField(gp, g)
			if !g.IsSignal() {
				seen[g.Name] = true
			}
		}
		if len(o.Measures) == 0 {
			v.add(path+".measures", "must not be empty")
		}
		for i, m := range o.Measures {
			mp := fmt.Sprintf("%s.measures[%d]", path, i)
			if !AggregateOps[m.Op] {
				v.add(mp+".op", "unsupported aggregate op %q", m.Op)
			}
			if m.Field == nil && m.Op != "count" {
				v.add(mp+".field", "op %q requires a field", m.Op)
			}
			if m.Field != nil {
				v.validateField(mp+".field", *m.Field)
			}
			if m.As == "" {
				v.add(mp+".as", "must not be empty")
			} else if seen[m.As] {
				v.add(mp+".as", "duplicate output column %q", m.As)
			}
			seen[m.As] = true
		}
	case nil:
		v.add(path, "nil operation")
	default:
		v.add(path, "unknown operation type %T", op)
	}
}

func (v *validator) validateField(path string, f FieldRef) {
	switch {
	case f.IsSignal():
		if !v.bound[f.Signal] {
			v.add(path, "signal %q is not bound", f.Signal)
		}
	case f.Name == "":
		v.add(path, "field name must not be empty")
	}
}

func (v *validator) validateScalar(path string, s Scalar) {
	switch e := s.(type) {
	case Column:
		v.validateField(path+".column", e.Field)
	case Literal:
		switch e.Value.(type) {
		case nil, float64, string, bool:
		default:
			v.add(path, "unsupported literal type %T", e.Value)
		}
	case Param:
		if !v.bound[e.Signal] {
			v.add(path, "signal %q is not bound", e.Signal)
		}
	case Unary:
		if e.Op != OpNot && e.Op != OpNeg {
			v.add(path, "unknown unary operator %q", e.Op)
		}
		v.validateScalar(path+".arg", e.X)
	case Binary:
		if !BinaryOps[e.Op] {
			v.add(path, "unknown binary operator %q", e.Op)
		}
		v.validateScalar(path+".left", e.Left)
		v.validateScalar(path+".right", e.Right)
	case IsNull:
		v.validateScalar(path+".arg", e.X)
	case Func:
		n, ok := FuncArity[e.Name]
		if !ok {
			v.add(path, "unknown function %q", e.Name)
		} else if n != len(e.Args) {
			v.add(path, "function %q takes %d arguments, got %d", e.Name, n, len(e.Args))
		}
		for i, a := range e.Args {
			v.validateScalar(fmt.Sprintf("%s.args[%d]", path, i), a)
		}
	case Case:
		v.validateScalar(path+".test", e.Test)
		v.validateScalar(path+".then", e.Then)
		v.validateScalar(path+".else", e.Else)
	default:
		v.add(path, "unknown expression type %T", s)
	}
}
