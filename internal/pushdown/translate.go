package pushdown

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgexpr"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// allowedParams lists the parameters each pushable kind understands.
// A step carrying any other parameter stays on the client.
var allowedParams = map[vgspec.Kind]map[string]bool{
	vgspec.KindFilter: {"expr": true},
	vgspec.KindExtent: {"field": true, "signal": true},
	vgspec.KindBin: {
		"field": true, "extent": true, "anchor": true, "maxbins": true,
		"base": true, "divide": true, "step": true, "minstep": true,
		"nice": true, "as": true, "signal": true, "interval": true,
	},
	vgspec.KindAggregate: {
		"groupby": true, "fields": true, "ops": true, "as": true,
		"cross": true, "drop": true, "key": true,
	},
}

// translate converts one step into its relational operation.
func (s *PipelineScan) translate(t vgspec.Transform) (queryir.Operation, error) {
	allowed := allowedParams[t.Kind()]
	keys := make([]string, 0, len(t.Params))
	for k := range t.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !allowed[k] {
			return nil, fmt.Errorf("%s parameter %q has no relational translation", t.Type, k)
		}
	}

	switch t.Kind() {
	case vgspec.KindFilter:
		return s.translateFilter(t)
	case vgspec.KindExtent:
		return s.translateExtent(t)
	case vgspec.KindBin:
		return s.translateBin(t)
	case vgspec.KindAggregate:
		return s.translateAggregate(t)
	default:
		return nil, fmt.Errorf("transform type %q has no relational translation", t.Type)
	}
}

func (s *PipelineScan) translateFilter(t vgspec.Transform) (queryir.Operation, error) {
	src, ok := t.Params["expr"].(string)
	if !ok {
		return nil, errors.New("filter expr must be an expression string")
	}
	node, err := vgexpr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("filter expr: %w", err)
	}
	pred, err := s.translateExpr(node)
	if err != nil {
		return nil, fmt.Errorf("filter expr %q: %w", src, err)
	}
	if err := queryir.CheckPredicate(pred); err != nil {
		return nil, fmt.Errorf("filter expr %q: %w", src, err)
	}
	return queryir.Filter{Predicate: pred}, nil
}

func (s *PipelineScan) translateExtent(t vgspec.Transform) (queryir.Operation, error) {
	field, err := s.fieldParam(t.Params["field"])
	if err != nil {
		return nil, fmt.Errorf("extent field: %w", err)
	}
	signal, err := stringParam(t.Params, "signal")
	if err != nil {
		return nil, err
	}
	return queryir.Extent{Field: field, Signal: signal}, nil
}

func (s *PipelineScan) translateBin(t vgspec.Transform) (queryir.Operation, error) {
	field, err := s.fieldParam(t.Params["field"])
	if err != nil {
		return nil, fmt.Errorf("bin field: %w", err)
	}
	b := queryir.Bin{Field: field, As: [2]string{"bin0", "bin1"}}

	if raw, ok := t.Params["as"]; ok {
		names, ok := vgspec.StringList(raw)
		if !ok || len(names) != 2 || names[0] == "" || names[1] == "" || names[0] == names[1] {
			return nil, errors.New("bin as must be two distinct names")
		}
		b.As = [2]string{names[0], names[1]}
	}
	if b.Signal, err = stringParam(t.Params, "signal"); err != nil {
		return nil, err
	}

	params := []struct {
		key  string
		dst  *queryir.Value
		kind valueKind
	}{
		{"extent", &b.Extent, numberPair},
		{"maxbins", &b.MaxBins, number},
		{"step", &b.Step, number},
		{"minstep", &b.MinStep, number},
		{"base", &b.Base, number},
		{"divide", &b.Divide, numberList},
		{"nice", &b.Nice, boolean},
		{"anchor", &b.Anchor, number},
		{"interval", &b.Interval, boolean},
	}
	for _, p := range params {
		raw, ok := t.Params[p.key]
		if !ok {
			continue
		}
		v, err := s.valueParam(raw, p.kind)
		if err != nil {
			return nil, fmt.Errorf("bin %s: %w", p.key, err)
		}
		*p.dst = v
	}
	if b.Extent.IsZero() {
		return nil, errors.New("bin extent is required")
	}
	return b, nil
}

func (s *PipelineScan) translateAggregate(t vgspec.Transform) (queryir.Operation, error) {
	if raw, ok := t.Params["cross"]; ok {
		if v, isBool := raw.(bool); !isBool || v {
			return nil, errors.New("aggregate cross produces empty groups that have no relational translation")
		}
	}
	if raw, ok := t.Params["drop"]; ok {
		if v, isBool := raw.(bool); !isBool || !v {
			return nil, errors.New("aggregate drop=false has no relational translation")
		}
	}
	if raw, ok := t.Params["key"]; ok {
		if _, isString := raw.(string); !isString {
			return nil, errors.New("aggregate key must be a field name")
		}
	}

	var agg queryir.Aggregate
	taken := make(map[string]bool)

	groupby, err := listParam(t.Params, "groupby")
	if err != nil {
		return nil, err
	}
	for i, g := range groupby {
		f, err := s.fieldParam(g)
		if err != nil {
			return nil, fmt.Errorf("aggregate groupby[%d]: %w", i, err)
		}
		if !f.IsSignal() {
			if taken[f.Name] {
				return nil, fmt.Errorf("aggregate groupby repeats %q", f.Name)
			}
			taken[f.Name] = true
		}
		agg.GroupBy = append(agg.GroupBy, f)
	}

	fields, err := listParam(t.Params, "fields")
	if err != nil {
		return nil, err
	}
	opsRaw, err := listParam(t.Params, "ops")
	if err != nil {
		return nil, err
	}
	as, err := listParam(t.Params, "as")
	if err != nil {
		return nil, err
	}

	n := max(len(fields), len(opsRaw))
	if n == 0 {
		n = 1
		opsRaw = []any{"count"}
	}
	for i := 0; i < n; i++ {
		if i >= len(opsRaw) {
			return nil, fmt.Errorf("aggregate fields[%d] has no op", i)
		}
		op, ok := opsRaw[i].(string)
		if !ok || !queryir.AggregateOps[op] {
			return nil, fmt.Errorf("aggregate op %v has no relational translation", opsRaw[i])
		}

		m := queryir.Measure{Op: op}
		var rawField any
		if i < len(fields) {
			rawField = fields[i]
		}
		if rawField != nil {
			f, err := s.fieldParam(rawField)
			if err != nil {
				return nil, fmt.Errorf("aggregate fields[%d]: %w", i, err)
			}
			m.Field = &f
		} else if op != "count" {
			return nil, fmt.Errorf("aggregate op %q requires a field", op)
		}

		var alias any
		if i < len(as) {
			alias = as[i]
		}
		switch a := alias.(type) {
		case string:
			m.As = a
		case nil:
			m.As = measureName(op, m.Field)
		default:
			return nil, fmt.Errorf("aggregate as[%d] must be a name", i)
		}
		if m.As == "" {
			return nil, fmt.Errorf("aggregate measure %d output name depends on a signal value", i)
		}
		if taken[m.As] {
			return nil, fmt.Errorf("aggregate output column %q is produced twice", m.As)
		}
		taken[m.As] = true
		agg.Measures = append(agg.Measures, m)
	}
	return agg, nil
}

// measureName is the default output name of a measure: op_field, or op
// alone without a field. A signal-named field has no static default.
func measureName(op string, field *queryir.FieldRef) string {
	switch {
	case field == nil:
		return op
	case field.IsSignal():
		return ""
	default:
		return op + "_" + field.Name
	}
}

type valueKind int

const (
	number valueKind = iota
	numberPair
	numberList
	boolean
)

// valueParam converts a literal or signal reference parameter.
func (s *PipelineScan) valueParam(raw any, kind valueKind) (queryir.Value, error) {
	if expr, ok := vgspec.SignalRef(raw); ok {
		root, path, err := s.signalPath(expr)
		if err != nil {
			return queryir.Value{}, err
		}
		return queryir.Sig(root, path...), nil
	}

	switch kind {
	case number:
		f, ok := vgspec.Number(raw)
		if !ok {
			return queryir.Value{}, fmt.Errorf("expected a number, got %T", raw)
		}
		return queryir.Lit(f), nil
	case boolean:
		b, ok := raw.(bool)
		if !ok {
			return queryir.Value{}, fmt.Errorf("expected a boolean, got %T", raw)
		}
		return queryir.Lit(b), nil
	default:
		list, ok := raw.([]any)
		if !ok || (kind == numberPair && len(list) != 2) || len(list) == 0 {
			return queryir.Value{}, errors.New("expected an array of numbers")
		}
		out := make([]any, len(list))
		for i, item := range list {
			f, ok := vgspec.Number(item)
			if !ok {
				return queryir.Value{}, errors.New("expected an array of numbers")
			}
			out[i] = f
		}
		return queryir.Lit(out), nil
	}
}

// fieldParam converts a field name or a signal naming a field.
func (s *PipelineScan) fieldParam(raw any) (queryir.FieldRef, error) {
	if name, ok := raw.(string); ok {
		if name == "" {
			return queryir.FieldRef{}, errors.New("field name is empty")
		}
		return queryir.Field(name), nil
	}
	if expr, ok := vgspec.SignalRef(raw); ok {
		root, path, err := s.signalPath(expr)
		if err != nil {
			return queryir.FieldRef{}, err
		}
		if len(path) > 0 {
			return queryir.FieldRef{}, fmt.Errorf("field signal %q must be a plain signal name", expr)
		}
		return queryir.FieldSignal(root), nil
	}
	return queryir.FieldRef{}, fmt.Errorf("expected a field name or signal reference, got %T", raw)
}

// signalPath checks that expr is a plain reference to a resolvable signal.
func (s *PipelineScan) signalPath(expr string) (string, []string, error) {
	node, err := vgexpr.Parse(expr)
	if err != nil {
		return "", nil, fmt.Errorf("signal expression: %w", err)
	}
	root, path, ok := vgexpr.SignalPath(node)
	if !ok {
		return "", nil, fmt.Errorf("signal expression %q is not a signal reference", expr)
	}
	if !s.Resolvable(root) {
		return "", nil, fmt.Errorf("signal %q is client-only", root)
	}
	return root, path, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return v, nil
}

func listParam(params map[string]any, key string) ([]any, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a literal array", key)
	}
	return list, nil
}

// translateExpr converts an expression to a relational scalar.
func (s *PipelineScan) translateExpr(n vgexpr.Node) (queryir.Scalar, error) {
	switch node := n.(type) {
	case vgexpr.Literal:
		return queryir.Literal{Value: node.Value}, nil

	case vgexpr.Ident, vgexpr.Member:
		if m, ok := node.(vgexpr.Member); ok {
			if id, ok := m.Object.(vgexpr.Ident); ok && id.Name == vgexpr.DatumName {
				return queryir.Column{Field: queryir.Field(m.Property)}, nil
			}
		}
		root, path, ok := vgexpr.SignalPath(n)
		if !ok {
			return nil, errors.New("datum must be accessed as datum.field")
		}
		if !s.Resolvable(root) {
			return nil, fmt.Errorf("signal %q is client-only", root)
		}
		return queryir.Param{Signal: root, Path: path}, nil

	case vgexpr.Index:
		if id, ok := node.Object.(vgexpr.Ident); ok && id.Name == vgexpr.DatumName {
			root, path, ok := vgexpr.SignalPath(node.Key)
			if !ok || len(path) > 0 {
				return nil, errors.New("computed datum access must use a plain signal")
			}
			if !s.Resolvable(root) {
				return nil, fmt.Errorf("signal %q is client-only", root)
			}
			return queryir.Column{Field: queryir.FieldSignal(root)}, nil
		}
		return nil, errors.New("computed member access has no relational translation")

	case vgexpr.Unary:
		x, err := s.translateExpr(node.X)
		if err != nil {
			return nil, err
		}
		switch node.Op {
		case "!":
			return queryir.Unary{Op: queryir.OpNot, X: x}, nil
		case "-":
			return queryir.Unary{Op: queryir.OpNeg, X: x}, nil
		default:
			return x, nil
		}

	case vgexpr.Binary:
		return s.translateBinary(node)

	case vgexpr.Conditional:
		test, err := s.translateExpr(node.Test)
		if err != nil {
			return nil, err
		}
		then, err := s.translateExpr(node.Then)
		if err != nil {
			return nil, err
		}
		els, err := s.translateExpr(node.Else)
		if err != nil {
			return nil, err
		}
		return queryir.Case{Test: test, Then: then, Else: els}, nil

	case vgexpr.Call:
		return s.translateCall(node)

	default:
		return nil, fmt.Errorf("%T has no relational translation", n)
	}
}

var binaryOps = map[string]string{
	"==": "=", "===": "=", "!=": "<>", "!==": "<>",
	"<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"+": "+", "-": "-", "*": "*", "/": "/", "%": "%",
	"&&": "AND", "||": "OR",
}

func (s *PipelineScan) translateBinary(node vgexpr.Binary) (queryir.Scalar, error) {
	op, ok := binaryOps[node.Op]
	if !ok {
		return nil, fmt.Errorf("operator %q has no relational translation", node.Op)
	}

	if op == "=" || op == "<>" {
		if isNullLiteral(node.Right) || isNullLiteral(node.Left) {
			other := node.Left
			if isNullLiteral(node.Left) {
				other = node.Right
			}
			x, err := s.translateExpr(other)
			if err != nil {
				return nil, err
			}
			return queryir.IsNull{X: x, Negate: op == "<>"}, nil
		}
	}
	if op == "+" && (isStringLiteral(node.Left) || isStringLiteral(node.Right)) {
		return nil, errors.New("string concatenation has no relational translation")
	}

	left, err := s.translateExpr(node.Left)
	if err != nil {
		return nil, err
	}
	right, err := s.translateExpr(node.Right)
	if err != nil {
		return nil, err
	}
	return queryir.Binary{Op: op, Left: left, Right: right}, nil
}

func (s *PipelineScan) translateCall(node vgexpr.Call) (queryir.Scalar, error) {
	args := make([]queryir.Scalar, len(node.Args))
	for i, a := range node.Args {
		x, err := s.translateExpr(a)
		if err != nil {
			return nil, err
		}
		args[i] = x
	}

	switch node.Callee {
	case "isValid":
		if len(args) != 1 {
			return nil, errors.New("isValid takes one argument")
		}
		return queryir.IsNull{X: args[0], Negate: true}, nil
	case "if":
		if len(args) != 3 {
			return nil, errors.New("if takes three arguments")
		}
		return queryir.Case{Test: args[0], Then: args[1], Else: args[2]}, nil
	}

	arity, ok := queryir.FuncArity[node.Callee]
	if !ok {
		return nil, fmt.Errorf("function %s has no relational translation", node.Callee)
	}
	if arity != len(args) {
		return nil, fmt.Errorf("function %s takes %d argument(s)", node.Callee, arity)
	}
	return queryir.Func{Name: node.Callee, Args: args}, nil
}

func isNullLiteral(n vgexpr.Node) bool {
	lit, ok := n.(vgexpr.Literal)
	return ok && lit.Value == nil
}

func isStringLiteral(n vgexpr.Node) bool {
	lit, ok := n.(vgexpr.Literal)
	if !ok {
		return false
	}
	_, isString := lit.Value.(string)
	return isString
}
