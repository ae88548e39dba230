package querysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// ErrUnboundSignal is returned when a descriptor reads a signal that has no
// value in Compiler.Signals.
var ErrUnboundSignal = errors.New("unbound signal")

// Compiler compiles query descriptors to parameterized SQL.
//
// Values are always passed as arguments, never interpolated. Identifiers,
// including columns named by signals, are quoted.
type Compiler struct {
	Dialect Dialect

	// Signals holds the values of the signals the descriptor reads: static
	// view signals and those published by earlier extent and bin queries.
	Signals map[string]any
}

// NewCompiler creates a compiler for dialect with the given signal values.
func NewCompiler(dialect Dialect, signals map[string]any) *Compiler {
	if signals == nil {
		signals = make(map[string]any)
	}
	return &Compiler{Dialect: dialect, Signals: signals}
}

// Compile converts the whole descriptor to one statement returning its
// output columns. Aggregated results are ordered by the group-by keys of
// the last aggregate; other results keep the database's order.
func (c *Compiler) Compile(d queryir.Descriptor) (string, []any, error) {
	q := c.newQuery()
	from, err := q.pipeline(d.SourceTable, d.Operations)
	if err != nil {
		return "", nil, err
	}

	cols, err := q.projection(d)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM (%s) AS q", cols, from)

	var keys []string
	for _, op := range d.Operations {
		if agg, ok := op.(queryir.Aggregate); ok {
			keys = keys[:0]
			for _, g := range agg.GroupBy {
				name, err := q.column(g)
				if err != nil {
					return "", nil, err
				}
				keys = append(keys, name)
			}
		}
	}
	if len(keys) > 0 {
		sql += " ORDER BY " + strings.Join(keys, ", ")
	}
	return sql, q.args, nil
}

// CompileExtent returns the query computing the [min, max] of the extent
// operation at index i, over the rows produced by the operations before it.
// The result has one row with columns "min" and "max".
func (c *Compiler) CompileExtent(d queryir.Descriptor, i int) (string, []any, error) {
	if i < 0 || i >= len(d.Operations) {
		return "", nil, fmt.Errorf("operation index %d out of range", i)
	}
	ext, ok := d.Operations[i].(queryir.Extent)
	if !ok {
		return "", nil, fmt.Errorf("operations[%d] is %s, not extent", i, d.Operations[i].OpName())
	}

	q := c.newQuery()
	from, err := q.pipeline(d.SourceTable, d.Operations[:i])
	if err != nil {
		return "", nil, err
	}
	col, err := q.column(ext.Field)
	if err != nil {
		return "", nil, fmt.Errorf("operations[%d].field: %w", i, err)
	}
	x := c.Dialect.real(col)
	sql := fmt.Sprintf("SELECT MIN(%s) AS %s, MAX(%s) AS %s FROM (%s) AS q",
		x, c.Dialect.Quote("min"), x, c.Dialect.Quote("max"), from)
	return sql, q.args, nil
}

// query accumulates the arguments of one statement.
type query struct {
	resolver
	dialect Dialect
	args    []any
}

func (c *Compiler) newQuery() *query {
	return &query{resolver: resolver{signals: c.Signals}, dialect: c.Dialect}
}

// arg appends a value and returns its marker.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	if _, ok := v.(float64); ok {
		return q.dialect.number(len(q.args))
	}
	return q.dialect.Placeholder(len(q.args))
}

// pipeline nests one sub-select per operation around the source table.
func (q *query) pipeline(table string, ops []queryir.Operation) (string, error) {
	if table == "" {
		return "", errors.New("descriptor has no source table")
	}
	sql := "SELECT * FROM " + q.dialect.Quote(table)

	for i, op := range ops {
		alias := "q" + strconv.Itoa(i+1)
		switch o := op.(type) {
		case queryir.Filter:
			pred, err := q.predicate(o.Predicate)
			if err != nil {
				return "", fmt.Errorf("operations[%d].predicate: %w", i, err)
			}
			sql = fmt.Sprintf("SELECT * FROM (%s) AS %s WHERE %s", sql, alias, pred)

		case queryir.Extent:
			// Rows pass through; the extent itself comes from CompileExtent.

		case queryir.Bin:
			cols, err := q.bin(o)
			if err != nil {
				return "", fmt.Errorf("operations[%d]: %w", i, err)
			}
			sql = fmt.Sprintf("SELECT *, %s FROM (%s) AS %s", cols, sql, alias)

		case queryir.Aggregate:
			sel, group, err := q.aggregate(o)
			if err != nil {
				return "", fmt.Errorf("operations[%d]: %w", i, err)
			}
			sql = fmt.Sprintf("SELECT %s FROM (%s) AS %s", sel, sql, alias)
			if group != "" {
				sql += " GROUP BY " + group
			}

		default:
			return "", fmt.Errorf("operations[%d]: unsupported operation %T", i, op)
		}
	}
	return sql, nil
}

// projection lists the output columns followed by the columns named by
// dynamic column signals.
func (q *query) projection(d queryir.Descriptor) (string, error) {
	seen := make(map[string]bool)
	var cols []string
	for _, name := range d.OutputColumns {
		if name == queryir.Wildcard {
			return "*", nil
		}
		if !seen[name] {
			seen[name] = true
			cols = append(cols, q.dialect.Quote(name))
		}
	}
	for _, s := range d.DynamicColumns {
		name, err := q.fieldName(queryir.FieldSignal(s))
		if err != nil {
			return "", fmt.Errorf("dynamicColumns: %w", err)
		}
		if !seen[name] {
			seen[name] = true
			cols = append(cols, q.dialect.Quote(name))
		}
	}
	if len(cols) == 0 {
		return "*", nil
	}
	return strings.Join(cols, ", "), nil
}

// bin renders the bin start (and end) columns. Bin boundaries are resolved
// now, so the extent and parameter signals must already be bound.
func (q *query) bin(b queryir.Bin) (string, error) {
	bins, err := ResolveBins(b, q.signals)
	if err != nil {
		return "", err
	}
	col, err := q.column(b.Field)
	if err != nil {
		return "", fmt.Errorf("field: %w", err)
	}

	d := q.dialect
	x := d.real(col)
	start := q.arg(bins.Start)
	stop := q.arg(bins.Stop)
	step := q.arg(bins.Step)

	// Values outside [start, stop] get a NULL bin. The client marks them
	// with infinite bounds, which JSON results cannot carry.
	offset := fmt.Sprintf("(%v + (%s - %s) / %s)", binEpsilon, d.least(x, stop+" - "+step), start, step)
	b0 := fmt.Sprintf("CASE WHEN %[1]s IS NULL OR %[1]s < %[2]s OR %[1]s > %[3]s THEN NULL ELSE %[2]s + %[4]s * %[5]s END",
		x, start, stop, step, d.floor(offset))

	cols := []string{b0 + " AS " + d.Quote(b.As[0])}
	if len(b.Columns()) == 2 {
		cols = append(cols, "("+b0+") + "+step+" AS "+d.Quote(b.As[1]))
	}
	return strings.Join(cols, ", "), nil
}

// aggregate renders the select list and group-by clause.
func (q *query) aggregate(a queryir.Aggregate) (sel, group string, err error) {
	var keys, cols []string
	for i, g := range a.GroupBy {
		name, err := q.column(g)
		if err != nil {
			return "", "", fmt.Errorf("groupby[%d]: %w", i, err)
		}
		keys = append(keys, name)
	}
	cols = append(cols, keys...)

	for i, m := range a.Measures {
		expr, err := q.measure(m)
		if err != nil {
			return "", "", fmt.Errorf("measures[%d]: %w", i, err)
		}
		cols = append(cols, expr+" AS "+q.dialect.Quote(m.As))
	}
	return strings.Join(cols, ", "), strings.Join(keys, ", "), nil
}

func (q *query) measure(m queryir.Measure) (string, error) {
	d := q.dialect
	if m.Op == "count" {
		return "COUNT(*)", nil
	}
	if m.Field == nil {
		return "", fmt.Errorf("op %q requires a field", m.Op)
	}
	x, err := q.column(*m.Field)
	if err != nil {
		return "", err
	}

	switch m.Op {
	case "valid":
		return "COUNT(" + x + ")", nil
	case "missing":
		return "COUNT(*) - COUNT(" + x + ")", nil
	case "distinct":
		return "COUNT(DISTINCT " + x + ")", nil
	case "sum":
		return "COALESCE(SUM(" + x + "), 0)", nil
	case "mean", "average":
		return "AVG(" + d.real(x) + ")", nil
	case "min":
		return "MIN(" + x + ")", nil
	case "max":
		return "MAX(" + x + ")", nil
	case "variance":
		return d.variance(x, false), nil
	case "variancep":
		return d.variance(x, true), nil
	case "stdev":
		return d.stdev(x, false)
	case "stdevp":
		return d.stdev(x, true)
	default:
		return "", fmt.Errorf("aggregate op %q has no SQL translation", m.Op)
	}
}

// column returns the quoted name of a field.
func (q *query) column(f queryir.FieldRef) (string, error) {
	name, err := q.fieldName(f)
	if err != nil {
		return "", err
	}
	return q.dialect.Quote(name), nil
}

// predicate renders s in a boolean position. The result is never NULL, so
// NOT and OR keep the client's two-valued logic.
func (q *query) predicate(s queryir.Scalar) (string, error) {
	switch e := s.(type) {
	case queryir.Literal:
		return boolean(truthy(e.Value)), nil

	case queryir.Param:
		v, err := q.value(queryir.Sig(e.Signal, e.Path...))
		if err != nil {
			return "", err
		}
		return boolean(truthy(v)), nil

	case queryir.Unary:
		if e.Op != queryir.OpNot {
			break
		}
		x, err := q.predicate(e.X)
		if err != nil {
			return "", err
		}
		return "(NOT " + x + ")", nil

	case queryir.Binary:
		if e.Op == "AND" || e.Op == "OR" {
			l, err := q.predicate(e.Left)
			if err != nil {
				return "", err
			}
			r, err := q.predicate(e.Right)
			if err != nil {
				return "", err
			}
			return "(" + l + " " + e.Op + " " + r + ")", nil
		}
		if queryir.IsComparison(e.Op) {
			return q.comparison(e)
		}

	case queryir.IsNull:
		x, err := q.scalar(e.X)
		if err != nil {
			return "", err
		}
		if e.Negate {
			return "(" + x + " IS NOT NULL)", nil
		}
		return "(" + x + " IS NULL)", nil

	case queryir.Case:
		t, err := q.predicate(e.Test)
		if err != nil {
			return "", err
		}
		a, err := q.predicate(e.Then)
		if err != nil {
			return "", err
		}
		b, err := q.predicate(e.Else)
		if err != nil {
			return "", err
		}
		return "(CASE WHEN " + t + " THEN " + a + " ELSE " + b + " END)", nil
	}
	return "", fmt.Errorf("%T is not a condition", s)
}

func boolean(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// comparison renders = and <> as null-safe equality. Ordering operators
// compare strings when either side is a string and numbers otherwise, with
// null read as 0; a comparison that still yields NULL is false.
func (q *query) comparison(e queryir.Binary) (string, error) {
	if !queryir.IsOrdering(e.Op) {
		l, err := q.scalar(e.Left)
		if err != nil {
			return "", err
		}
		r, err := q.scalar(e.Right)
		if err != nil {
			return "", err
		}
		return q.dialect.same(l, r, e.Op == "<>"), nil
	}

	if q.stringTyped(e.Left) || q.stringTyped(e.Right) {
		l, err := q.scalar(e.Left)
		if err != nil {
			return "", err
		}
		r, err := q.scalar(e.Right)
		if err != nil {
			return "", err
		}
		return "COALESCE((" + l + " " + e.Op + " " + r + "), FALSE)", nil
	}

	l, err := q.numeric(e.Left)
	if err != nil {
		return "", err
	}
	r, err := q.numeric(e.Right)
	if err != nil {
		return "", err
	}
	cmp := "(" + l + " " + e.Op + " " + r + ")"
	if nullable(e.Left) || nullable(e.Right) {
		cmp = "COALESCE(" + cmp + ", FALSE)"
	}
	return cmp, nil
}

// stringTyped reports whether s is known to be a string.
func (q *query) stringTyped(s queryir.Scalar) bool {
	switch e := s.(type) {
	case queryir.Literal:
		_, ok := e.Value.(string)
		return ok
	case queryir.Param:
		v, err := q.value(queryir.Sig(e.Signal, e.Path...))
		if err != nil {
			return false
		}
		_, ok := v.(string)
		return ok
	case queryir.Func:
		return queryir.StringFuncs[e.Name]
	default:
		return false
	}
}

// nullable reports whether the numeric rendering of s may be NULL.
func nullable(s queryir.Scalar) bool {
	switch e := s.(type) {
	case queryir.Column, queryir.Literal, queryir.Param:
		return false
	case queryir.Unary:
		return nullable(e.X)
	case queryir.Binary:
		return e.Op == "/" || e.Op == "%" || nullable(e.Left) || nullable(e.Right)
	case queryir.Func:
		switch e.Name {
		case "abs", "floor", "ceil", "round":
			return len(e.Args) != 1 || nullable(e.Args[0])
		}
		return true
	case queryir.Case:
		return nullable(e.Then) || nullable(e.Else)
	default:
		return true
	}
}

// numeric renders s used as a number: null columns and constants read as
// 0 and booleans as 0 or 1.
func (q *query) numeric(s queryir.Scalar) (string, error) {
	switch e := s.(type) {
	case queryir.Column:
		col, err := q.column(e.Field)
		if err != nil {
			return "", err
		}
		return "COALESCE(" + col + ", 0)", nil

	case queryir.Literal:
		return q.numberArg(e.Value)

	case queryir.Param:
		v, err := q.value(queryir.Sig(e.Signal, e.Path...))
		if err != nil {
			return "", err
		}
		x, err := q.numberArg(v)
		if err != nil {
			return "", fmt.Errorf("signal %q: %w", e.Signal, err)
		}
		return x, nil

	case queryir.Case:
		t, err := q.predicate(e.Test)
		if err != nil {
			return "", err
		}
		a, err := q.numeric(e.Then)
		if err != nil {
			return "", err
		}
		b, err := q.numeric(e.Else)
		if err != nil {
			return "", err
		}
		return "(CASE WHEN " + t + " THEN " + a + " ELSE " + b + " END)", nil
	}
	return q.scalar(s)
}

func (q *query) numberArg(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "0", nil
	case bool:
		if val {
			return q.arg(1.0), nil
		}
		return q.arg(0.0), nil
	case string:
		return q.arg(val), nil
	}
	if f, ok := toFloat(v); ok {
		return q.arg(f), nil
	}
	return "", fmt.Errorf("value %v is not a scalar", v)
}

// scalar renders s in a value position.
func (q *query) scalar(s queryir.Scalar) (string, error) {
	switch e := s.(type) {
	case queryir.Column:
		return q.column(e.Field)

	case queryir.Literal:
		if e.Value == nil {
			return "NULL", nil
		}
		return q.arg(e.Value), nil

	case queryir.Param:
		v, err := q.value(queryir.Sig(e.Signal, e.Path...))
		if err != nil {
			return "", err
		}
		if v == nil {
			return "NULL", nil
		}
		if f, ok := toFloat(v); ok {
			return q.arg(f), nil
		}
		switch v.(type) {
		case string, bool:
			return q.arg(v), nil
		}
		return "", fmt.Errorf("signal %q value %v is not a scalar", e.Signal, v)

	case queryir.Unary:
		if e.Op != queryir.OpNeg {
			break
		}
		x, err := q.numeric(e.X)
		if err != nil {
			return "", err
		}
		return "(-" + x + ")", nil

	case queryir.Binary:
		if !queryir.IsArithmetic(e.Op) {
			break
		}
		l, err := q.numeric(e.Left)
		if err != nil {
			return "", err
		}
		r, err := q.numeric(e.Right)
		if err != nil {
			return "", err
		}
		switch e.Op {
		case "/":
			return "(" + q.dialect.real(l) + " / " + r + ")", nil
		case "%":
			return q.dialect.mod(l, r), nil
		}
		return "(" + l + " " + e.Op + " " + r + ")", nil

	case queryir.Func:
		if len(e.Args) != 1 {
			return "", fmt.Errorf("function %s takes one argument", e.Name)
		}
		render := q.numeric
		if queryir.StringFuncs[e.Name] || e.Name == "length" {
			render = q.scalar
		}
		x, err := render(e.Args[0])
		if err != nil {
			return "", err
		}
		switch e.Name {
		case "abs", "round", "lower", "upper", "length":
			return strings.ToUpper(e.Name) + "(" + x + ")", nil
		case "floor":
			return q.dialect.floor(x), nil
		case "ceil":
			return q.dialect.ceil(x), nil
		case "sqrt":
			return q.dialect.sqrt(x)
		default:
			return "", fmt.Errorf("function %s has no SQL translation", e.Name)
		}

	case queryir.Case:
		t, err := q.predicate(e.Test)
		if err != nil {
			return "", err
		}
		a, err := q.scalar(e.Then)
		if err != nil {
			return "", err
		}
		b, err := q.scalar(e.Else)
		if err != nil {
			return "", err
		}
		return "(CASE WHEN " + t + " THEN " + a + " ELSE " + b + " END)", nil

	case queryir.IsNull:
	default:
		return "", fmt.Errorf("unsupported expression %T", s)
	}
	return "", fmt.Errorf("condition %T is used as a value", s)
}

// resolver reads signal values.
type resolver struct {
	signals map[string]any
}

// fieldName resolves a literal or signal-named field.
func (r resolver) fieldName(f queryir.FieldRef) (string, error) {
	if !f.IsSignal() {
		if f.Name == "" {
			return "", errors.New("empty field name")
		}
		return f.Name, nil
	}
	v, ok := r.signals[f.Signal]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnboundSignal, f.Signal)
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return "", fmt.Errorf("signal %q must name a column, got %v", f.Signal, v)
	}
	return name, nil
}

// value resolves a parameter, following the property path of a signal.
func (r resolver) value(v queryir.Value) (any, error) {
	if !v.IsSignal() {
		return v.Literal, nil
	}
	cur, ok := r.signals[v.Signal]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnboundSignal, v.Signal)
	}
	for _, key := range v.Path {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("signal %q has no element %s", v.Signal, key)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("signal %q has no property %s", v.Signal, key)
		}
	}
	return cur, nil
}

func (r resolver) number(v queryir.Value) (float64, error) {
	raw, err := r.value(v)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %v", raw)
	}
	return f, nil
}

// toFloat converts numbers from decoded JSON, signal defaults and database
// rows. Strings are never numbers.
func toFloat(v any) (float64, bool) {
	if f, ok := vgspec.Number(v); ok {
		return f, true
	}
	switch n := v.(type) {
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
