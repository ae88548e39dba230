package queryir

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed encoded descriptor.
type DecodeError struct {
	Path    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode descriptor: %s: %s", e.Path, e.Message)
}

func decodeErr(path, format string, args ...any) error {
	return &DecodeError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Encode converts the descriptor to plain JSON values.
func (d Descriptor) Encode() map[string]any {
	ops := make([]any, len(d.Operations))
	for i, op := range d.Operations {
		ops[i] = encodeOperation(op)
	}
	out := map[string]any{
		"sourceTable":   d.SourceTable,
		"operations":    ops,
		"outputColumns": stringsToAny(d.OutputColumns),
	}
	if len(d.DynamicColumns) > 0 {
		out["dynamicColumns"] = stringsToAny(d.DynamicColumns)
	}
	if len(d.Signals) > 0 {
		out["signals"] = stringsToAny(d.Signals)
	}
	return out
}

func encodeOperation(op Operation) map[string]any {
	out := map[string]any{"op": op.OpName()}
	switch o := op.(type) {
	case Filter:
		out["predicate"] = EncodeScalar(o.Predicate)
	case Extent:
		out["field"] = encodeField(o.Field)
		if o.Signal != "" {
			out["signal"] = o.Signal
		}
	case Bin:
		out["field"] = encodeField(o.Field)
		out["as"] = []any{o.As[0], o.As[1]}
		if o.Signal != "" {
			out["signal"] = o.Signal
		}
		for _, p := range o.params() {
			if !p.value.IsZero() {
				out[p.key] = encodeValue(p.value)
			}
		}
	case Aggregate:
		groupby := make([]any, len(o.GroupBy))
		for i, f := range o.GroupBy {
			groupby[i] = encodeField(f)
		}
		measures := make([]any, len(o.Measures))
		for i, m := range o.Measures {
			enc := map[string]any{"op": m.Op, "as": m.As}
			if m.Field != nil {
				enc["field"] = encodeField(*m.Field)
			}
			measures[i] = enc
		}
		out["groupby"] = groupby
		out["measures"] = measures
	}
	return out
}

type binParam struct {
	key   string
	value Value
}

func (b Bin) params() []binParam {
	return []binParam{
		{"extent", b.Extent},
		{"maxbins", b.MaxBins},
		{"step", b.Step},
		{"minstep", b.MinStep},
		{"base", b.Base},
		{"divide", b.Divide},
		{"nice", b.Nice},
		{"anchor", b.Anchor},
		{"interval", b.Interval},
	}
}

func (b *Bin) param(key string) *Value {
	switch key {
	case "extent":
		return &b.Extent
	case "maxbins":
		return &b.MaxBins
	case "step":
		return &b.Step
	case "minstep":
		return &b.MinStep
	case "base":
		return &b.Base
	case "divide":
		return &b.Divide
	case "nice":
		return &b.Nice
	case "anchor":
		return &b.Anchor
	case "interval":
		return &b.Interval
	default:
		return nil
	}
}

func encodeField(f FieldRef) any {
	if f.IsSignal() {
		return map[string]any{"signal": f.Signal}
	}
	return f.Name
}

func encodeValue(v Value) any {
	if v.IsSignal() {
		out := map[string]any{"signal": v.Signal}
		if len(v.Path) > 0 {
			out["path"] = stringsToAny(v.Path)
		}
		return out
	}
	return plain(v.Literal)
}

// EncodeScalar converts an expression tree to plain JSON values.
func EncodeScalar(s Scalar) any {
	switch e := s.(type) {
	case Column:
		return map[string]any{"column": encodeField(e.Field)}
	case Literal:
		return map[string]any{"literal": plain(e.Value)}
	case Param:
		out := map[string]any{"param": e.Signal}
		if len(e.Path) > 0 {
			out["path"] = stringsToAny(e.Path)
		}
		return out
	case Unary:
		return map[string]any{"op": e.Op, "arg": EncodeScalar(e.X)}
	case Binary:
		return map[string]any{"op": e.Op, "left": EncodeScalar(e.Left), "right": EncodeScalar(e.Right)}
	case IsNull:
		op := "ISNULL"
		if e.Negate {
			op = "NOTNULL"
		}
		return map[string]any{"op": op, "arg": EncodeScalar(e.X)}
	case Func:
		args := make([]any, len(e.Args))
		for i, a := range e.Args {
			args[i] = EncodeScalar(a)
		}
		return map[string]any{"func": e.Name, "args": args}
	case Case:
		return map[string]any{
			"op":   "CASE",
			"test": EncodeScalar(e.Test),
			"then": EncodeScalar(e.Then),
			"else": EncodeScalar(e.Else),
		}
	default:
		return nil
	}
}

// Decode parses an encoded descriptor.
func Decode(v any) (Descriptor, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Descriptor{}, decodeErr("$", "must be an object")
	}

	var d Descriptor
	table, ok := obj["sourceTable"].(string)
	if !ok {
		return Descriptor{}, decodeErr("sourceTable", "must be a string")
	}
	d.SourceTable = table

	list, ok := obj["operations"].([]any)
	if !ok {
		return Descriptor{}, decodeErr("operations", "must be an array")
	}
	for i, item := range list {
		op, err := decodeOperation(fmt.Sprintf("operations[%d]", i), item)
		if err != nil {
			return Descriptor{}, err
		}
		d.Operations = append(d.Operations, op)
	}

	var err error
	if d.OutputColumns, err = decodeStrings("outputColumns", obj["outputColumns"]); err != nil {
		return Descriptor{}, err
	}
	if d.DynamicColumns, err = decodeStrings("dynamicColumns", obj["dynamicColumns"]); err != nil {
		return Descriptor{}, err
	}
	if d.Signals, err = decodeStrings("signals", obj["signals"]); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func decodeOperation(path string, v any) (Operation, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, decodeErr(path, "must be an object")
	}
	signal, _ := obj["signal"].(string)

	switch obj["op"] {
	case "filter":
		pred, err := DecodeScalar(path+".predicate", obj["predicate"])
		if err != nil {
			return nil, err
		}
		return Filter{Predicate: pred}, nil

	case "extent":
		field, err := decodeField(path+".field", obj["field"])
		if err != nil {
			return nil, err
		}
		return Extent{Field: field, Signal: signal}, nil

	case "bin":
		field, err := decodeField(path+".field", obj["field"])
		if err != nil {
			return nil, err
		}
		as, err := decodeStrings(path+".as", obj["as"])
		if err != nil {
			return nil, err
		}
		if len(as) != 2 {
			return nil, decodeErr(path+".as", "must hold two names")
		}
		b := Bin{Field: field, As: [2]string{as[0], as[1]}, Signal: signal}
		for _, p := range b.params() {
			raw, ok := obj[p.key]
			if !ok {
				continue
			}
			val, err := decodeValue(raw)
			if err != nil {
				return nil, decodeErr(path+"."+p.key, "%v", err)
			}
			*b.param(p.key) = val
		}
		return b, nil

	case "aggregate":
		var agg Aggregate
		groupby, _ := obj["groupby"].([]any)
		for i, g := range groupby {
			f, err := decodeField(fmt.Sprintf("%s.groupby[%d]", path, i), g)
			if err != nil {
				return nil, err
			}
			agg.GroupBy = append(agg.GroupBy, f)
		}
		measures, ok := obj["measures"].([]any)
		if !ok {
			return nil, decodeErr(path+".measures", "must be an array")
		}
		for i, item := range measures {
			mpath := fmt.Sprintf("%s.measures[%d]", path, i)
			m, ok := item.(map[string]any)
			if !ok {
				return nil, decodeErr(mpath, "must be an object")
			}
			op, _ := m["op"].(string)
			as, _ := m["as"].(string)
			measure := Measure{Op: op, As: as}
			if raw, ok := m["field"]; ok && raw != nil {
				f, err := decodeField(mpath+".field", raw)
				if err != nil {
					return nil, err
				}
				measure.Field = &f
			}
			agg.Measures = append(agg.Measures, measure)
		}
		return agg, nil

	default:
		return nil, decodeErr(path+".op", "unknown operation %v", obj["op"])
	}
}

func decodeField(path string, v any) (FieldRef, error) {
	switch f := v.(type) {
	case string:
		return Field(f), nil
	case map[string]any:
		if s, ok := f["signal"].(string); ok {
			return FieldSignal(s), nil
		}
	}
	return FieldRef{}, decodeErr(path, "must be a field name or signal reference")
}

func decodeValue(v any) (Value, error) {
	if obj, ok := v.(map[string]any); ok {
		s, ok := obj["signal"].(string)
		if !ok {
			return Value{}, fmt.Errorf("object value must be a signal reference")
		}
		path, err := decodeStrings("path", obj["path"])
		if err != nil {
			return Value{}, err
		}
		return Value{Signal: s, Path: path}, nil
	}
	return Lit(plain(v)), nil
}

// DecodeScalar parses an encoded expression tree.
func DecodeScalar(path string, v any) (Scalar, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, decodeErr(path, "must be an object")
	}

	if raw, ok := obj["column"]; ok {
		f, err := decodeField(path+".column", raw)
		if err != nil {
			return nil, err
		}
		return Column{Field: f}, nil
	}
	if raw, ok := obj["literal"]; ok {
		return Literal{Value: plain(raw)}, nil
	}
	if name, ok := obj["param"].(string); ok {
		p, err := decodeStrings(path+".path", obj["path"])
		if err != nil {
			return nil, err
		}
		return Param{Signal: name, Path: p}, nil
	}
	if name, ok := obj["func"].(string); ok {
		args, _ := obj["args"].([]any)
		fn := Func{Name: name}
		for i, a := range args {
			s, err := DecodeScalar(fmt.Sprintf("%s.args[%d]", path, i), a)
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, s)
		}
		return fn, nil
	}

	op, _ := obj["op"].(string)
	sub := func(key string) (Scalar, error) {
		return DecodeScalar(path+"."+key, obj[key])
	}
	switch {
	case op == "CASE":
		test, err := sub("test")
		if err != nil {
			return nil, err
		}
		then, err := sub("then")
		if err != nil {
			return nil, err
		}
		els, err := sub("else")
		if err != nil {
			return nil, err
		}
		return Case{Test: test, Then: then, Else: els}, nil
	case op == "ISNULL" || op == "NOTNULL":
		x, err := sub("arg")
		if err != nil {
			return nil, err
		}
		return IsNull{X: x, Negate: op == "NOTNULL"}, nil
	case op == OpNot || op == OpNeg:
		x, err := sub("arg")
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, X: x}, nil
	case BinaryOps[op]:
		left, err := sub("left")
		if err != nil {
			return nil, err
		}
		right, err := sub("right")
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, Left: left, Right: right}, nil
	default:
		return nil, decodeErr(path, "unknown expression")
	}
}

func decodeStrings(path string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, decodeErr(path, "must be an array of strings")
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, decodeErr(path, "must be an array of strings")
		}
		out[i] = s
	}
	return out, nil
}

func stringsToAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// plain converts numbers to float64 and typed slices to []any.
func plain(v any) any {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return string(val)
		}
		return f
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = plain(e)
		}
		return out
	default:
		return v
	}
}
