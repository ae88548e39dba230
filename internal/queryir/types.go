package queryir

import "sort"

// Wildcard in OutputColumns projects every column of the query result.
const Wildcard = "*"

// Descriptor is a relational query derived from a pushed transform prefix.
type Descriptor struct {
	// SourceTable is the remote table the first operation reads from.
	SourceTable string

	// Operations are applied in order.
	Operations []Operation

	// OutputColumns is the sorted set of projected columns. A single
	// Wildcard entry projects all columns.
	OutputColumns []string

	// DynamicColumns are signals whose current value names a projected
	// column, e.g. a field chosen by a select widget.
	DynamicColumns []string

	// Signals are the names published by operations of this query.
	Signals []string
}

// Operation is one relational step of a descriptor.
//
// This is a sealed interface - only types in this package implement it.
type Operation interface {
	operationNode()

	// OpName is the encoded operation tag.
	OpName() string
}

// Filter keeps rows for which Predicate is true.
type Filter struct {
	Predicate Scalar
}

func (Filter) operationNode() {}
func (Filter) OpName() string { return "filter" }

// Extent computes the minimum and maximum of a field. The result is
// published as Signal ([min, max]) and rows pass through unchanged.
type Extent struct {
	Field  FieldRef
	Signal string
}

func (Extent) operationNode() {}
func (Extent) OpName() string { return "extent" }

// Bin adds bin boundary columns for a numeric field.
//
// Unset Values take the defaults of the bin parameter algorithm. As holds
// the start and end column names; when Interval is literally false only the
// start column is produced.
type Bin struct {
	Field    FieldRef
	Extent   Value // [min, max] literal or signal
	MaxBins  Value
	Step     Value
	MinStep  Value
	Base     Value
	Divide   Value
	Nice     Value
	Anchor   Value
	Interval Value
	As       [2]string
	Signal   string
}

func (Bin) operationNode() {}
func (Bin) OpName() string { return "bin" }

// Columns returns the column names the bin produces.
func (b Bin) Columns() []string {
	if v, ok := b.Interval.Literal.(bool); ok && !b.Interval.IsSignal() && !v {
		return []string{b.As[0]}
	}
	return []string{b.As[0], b.As[1]}
}

// Aggregate groups rows and computes measures. The output holds only the
// group-by columns and the measure aliases.
type Aggregate struct {
	GroupBy  []FieldRef
	Measures []Measure
}

func (Aggregate) operationNode() {}
func (Aggregate) OpName() string { return "aggregate" }

// Measure is one aggregate function application.
type Measure struct {
	Op    string
	Field *FieldRef // nil for count
	As    string
}

// Aggregate ops with a relational translation.
var AggregateOps = map[string]bool{
	"count":     true,
	"valid":     true,
	"missing":   true,
	"distinct":  true,
	"sum":       true,
	"mean":      true,
	"average":   true,
	"min":       true,
	"max":       true,
	"variance":  true,
	"variancep": true,
	"stdev":     true,
	"stdevp":    true,
}

// FieldRef names a column either literally or through a signal.
type FieldRef struct {
	Name   string
	Signal string
}

// Field returns a literal column reference.
func Field(name string) FieldRef { return FieldRef{Name: name} }

// FieldSignal returns a column reference resolved from a signal.
func FieldSignal(signal string) FieldRef { return FieldRef{Signal: signal} }

// IsSignal reports whether the column is named by a signal.
func (f FieldRef) IsSignal() bool { return f.Signal != "" }

func (f FieldRef) String() string {
	if f.IsSignal() {
		return "{signal:" + f.Signal + "}"
	}
	return f.Name
}

// Value is an operation parameter: a literal or a signal reference.
// The zero Value means "not set".
type Value struct {
	Literal any
	Signal  string
	Path    []string // property path below Signal, e.g. ["start"]
}

// Lit returns a literal Value.
func Lit(v any) Value { return Value{Literal: v} }

// Sig returns a signal Value.
func Sig(name string, path ...string) Value { return Value{Signal: name, Path: path} }

// IsSignal reports whether the value is a signal reference.
func (v Value) IsSignal() bool { return v.Signal != "" }

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool { return v.Signal == "" && v.Literal == nil }

// Scalar is a row-level expression used by filters.
//
// This is a sealed interface - only types in this package implement it.
type Scalar interface {
	scalarNode()
}

// Column reads a column of the current row.
type Column struct {
	Field FieldRef
}

// Literal is a constant: float64, string, bool or nil.
type Literal struct {
	Value any
}

// Param reads a signal value, optionally following a property path.
type Param struct {
	Signal string
	Path   []string
}

// Unary applies NOT or NEG.
type Unary struct {
	Op string
	X  Scalar
}

// Binary applies a comparison, arithmetic or logical operator.
// Ops: = <> < <= > >= + - * / % AND OR.
type Binary struct {
	Op    string
	Left  Scalar
	Right Scalar
}

// IsNull tests for NULL, or for NOT NULL when Negate is set.
type IsNull struct {
	X      Scalar
	Negate bool
}

// Func calls a scalar function: abs floor ceil round sqrt lower upper length.
type Func struct {
	Name string
	Args []Scalar
}

// Case is a two-way conditional.
type Case struct {
	Test Scalar
	Then Scalar
	Else Scalar
}

func (Column) scalarNode() {}
func (Literal) scalarNode() {}
func (Param) scalarNode() {}
func (Unary) scalarNode() {}
func (Binary) scalarNode() {}
func (IsNull) scalarNode() {}
func (Func) scalarNode() {}
func (Case) scalarNode() {}

// Unary operators.
const (
	OpNot = "NOT"
	OpNeg = "NEG"
)

// BinaryOps lists the accepted Binary operators.
var BinaryOps = map[string]bool{
	"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"AND": true, "OR": true,
}

// FuncArity lists the accepted functions and their argument counts.
var FuncArity = map[string]int{
	"abs":    1,
	"floor":  1,
	"ceil":   1,
	"round":  1,
	"sqrt":   1,
	"lower":  1,
	"upper":  1,
	"length": 1,
}

// Produced returns the signals published by the operations, in order.
func Produced(ops []Operation) []string {
	var out []string
	for _, op := range ops {
		switch o := op.(type) {
		case Extent:
			if o.Signal != "" {
				out = append(out, o.Signal)
			}
		case Bin:
			if o.Signal != "" {
				out = append(out, o.Signal)
			}
		}
	}
	return out
}

// SortedSet returns the distinct entries of names, sorted.
func SortedSet(names ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range names {
		for _, n := range list {
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
