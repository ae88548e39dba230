package pushdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

const signalsDoc = `{
  "signals": [
    {"name": "field", "value": "DISTANCE", "bind": {"input": "select"}},
    {"name": "maxbins", "value": 20},
    {"name": "limit", "value": 10, "update": "maxbins * 2"},
    {"name": "hover", "value": null, "on": [{"events": "rect:mouseover", "update": "datum"}]}
  ]
}`

func step(typ string, params map[string]any) vgspec.Transform {
	return vgspec.Transform{Type: typ, Params: params}
}

func testScan(t *testing.T, seed ...string) *PipelineScan {
	t.Helper()
	return NewClassifier(parseDoc(t, signalsDoc)).Scan(seed...)
}

func TestClassifier_StaticSignals(t *testing.T) {
	c := NewClassifier(parseDoc(t, signalsDoc))

	assert.True(t, c.Static("field"))
	assert.True(t, c.Static("maxbins"))
	assert.True(t, c.Static("width"))
	assert.False(t, c.Static("limit"))
	assert.False(t, c.Static("hover"))
	assert.False(t, c.Static("unknown"))
}

func TestClassifier_ReactiveShadowsBuiltin(t *testing.T) {
	doc := parseDoc(t, `{"signals": [{"name": "width", "update": "containerSize()[0]"}]}`)
	assert.False(t, NewClassifier(doc).Static("width"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		step     vgspec.Transform
		pushable bool
		reason   string
	}{
		{"filter", step("filter", map[string]any{"expr": "datum.a > 1"}), true, ""},
		{"filter builtin signal", step("filter", map[string]any{"expr": "datum.a < width"}), true, ""},
		{"filter computed field", step("filter", map[string]any{"expr": "datum[field] > 0"}), true, ""},
		{"filter reactive signal", step("filter", map[string]any{"expr": "datum.a < limit"}), false, `signal "limit" is client-only`},
		{"filter unknown signal", step("filter", map[string]any{"expr": "datum[other] > 0"}), false, `signal "other" is client-only`},
		{"filter unknown param", step("filter", map[string]any{"expr": "datum.a > 1", "foo": 1.0}), false, `parameter "foo"`},
		{"filter concat", step("filter", map[string]any{"expr": "datum.name + 'x' == 'ax'"}), false, "string concatenation"},
		{"filter unknown function", step("filter", map[string]any{"expr": "indexof(datum.name, 'x') > 0"}), false, "function indexof"},
		{"filter whole datum", step("filter", map[string]any{"expr": "isValid(datum)"}), false, "datum.field"},
		{"filter bare field", step("filter", map[string]any{"expr": "datum.s"}), false, "field s is used as a condition"},
		{"filter negated field", step("filter", map[string]any{"expr": "!datum.s"}), false, "field s is used as a condition"},
		{"filter arithmetic condition", step("filter", map[string]any{"expr": "datum.a - 1"}), false, "a number is used as a condition"},
		{"filter function condition", step("filter", map[string]any{"expr": "datum.a > 1 && length(datum.s)"}), false, "length() is used as a condition"},
		{"filter condition as value", step("filter", map[string]any{"expr": "(datum.a > 1) * 2 > 1"}), false, "a condition is used as a value"},
		{"filter two fields ordered", step("filter", map[string]any{"expr": "datum.a < datum.b"}), false, "two untyped values"},
		{"filter two fields equal", step("filter", map[string]any{"expr": "datum.a == datum.b"}), true, ""},
		{"filter signal condition", step("filter", map[string]any{"expr": "maxbins && datum.a > 1"}), true, ""},
		{"filter syntax error", step("filter", map[string]any{"expr": "datum.a >"}), false, "filter expr"},
		{"filter not a string", step("filter", map[string]any{"expr": map[string]any{"signal": "x"}}), false, "expression string"},

		{"extent", step("extent", map[string]any{"field": "a", "signal": "ext"}), true, ""},
		{"extent signal field", step("extent", map[string]any{"field": map[string]any{"signal": "field"}}), true, ""},
		{"extent reactive field", step("extent", map[string]any{"field": map[string]any{"signal": "hover"}}), false, "client-only"},
		{"extent field path", step("extent", map[string]any{"field": map[string]any{"signal": "field.name"}}), false, "plain signal name"},
		{"extent no field", step("extent", map[string]any{}), false, "extent field"},

		{"bin literal extent", step("bin", map[string]any{"field": "a", "extent": []any{0.0, 100.0}}), true, ""},
		{"bin signal params", step("bin", map[string]any{
			"field": "a", "extent": []any{0.0, 100.0}, "maxbins": map[string]any{"signal": "maxbins"},
			"nice": false, "step": 5.0, "as": []any{"lo", "hi"},
		}), true, ""},
		{"bin no extent", step("bin", map[string]any{"field": "a"}), false, "extent is required"},
		{"bin one name", step("bin", map[string]any{"field": "a", "extent": []any{0.0, 1.0}, "as": []any{"lo"}}), false, "two distinct names"},
		{"bin signal expression", step("bin", map[string]any{"field": "a", "extent": []any{0.0, 1.0}, "maxbins": map[string]any{"signal": "maxbins + 1"}}), false, "not a signal reference"},
		{"bin bad nice", step("bin", map[string]any{"field": "a", "extent": []any{0.0, 1.0}, "nice": "yes"}), false, "bin nice"},
		{"bin extent of three", step("bin", map[string]any{"field": "a", "extent": []any{0.0, 1.0, 2.0}}), false, "array of numbers"},

		{"aggregate count", step("aggregate", map[string]any{"groupby": []any{"a"}}), true, ""},
		{"aggregate measures", step("aggregate", map[string]any{
			"groupby": []any{"a"}, "fields": []any{"b", nil}, "ops": []any{"mean", "count"},
		}), true, ""},
		{"aggregate drop true", step("aggregate", map[string]any{"groupby": []any{"a"}, "drop": true}), true, ""},
		{"aggregate cross false", step("aggregate", map[string]any{"groupby": []any{"a"}, "cross": false}), true, ""},
		{"aggregate signal field with alias", step("aggregate", map[string]any{
			"fields": []any{map[string]any{"signal": "field"}}, "ops": []any{"mean"}, "as": []any{"m"},
		}), true, ""},
		{"aggregate median", step("aggregate", map[string]any{"fields": []any{"b"}, "ops": []any{"median"}}), false, "median"},
		{"aggregate cross", step("aggregate", map[string]any{"groupby": []any{"a"}, "cross": true}), false, "cross"},
		{"aggregate drop false", step("aggregate", map[string]any{"groupby": []any{"a"}, "drop": false}), false, "drop=false"},
		{"aggregate signal field without alias", step("aggregate", map[string]any{
			"fields": []any{map[string]any{"signal": "field"}}, "ops": []any{"mean"},
		}), false, "depends on a signal value"},
		{"aggregate null field", step("aggregate", map[string]any{"fields": []any{nil}, "ops": []any{"sum"}}), false, "requires a field"},
		{"aggregate duplicate output", step("aggregate", map[string]any{"groupby": []any{"count"}}), false, "produced twice"},
		{"aggregate field without op", step("aggregate", map[string]any{"fields": []any{"a", "b"}, "ops": []any{"sum"}}), false, "has no op"},
		{"aggregate signal groupby list", step("aggregate", map[string]any{"groupby": map[string]any{"signal": "keys"}}), false, "literal array"},

		{"custom", step("formula", map[string]any{"expr": "datum.a * 2", "as": "b"}), false, "custom transform formula is opaque"},
		{"executor step", step(DefaultExecutorKind, map[string]any{"relation": "t"}), false, "opaque"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testScan(t).Classify(tt.step)
			assert.Equal(t, tt.pushable, v.Pushable, v.Reason)
			if tt.pushable {
				assert.NotNil(t, v.Op)
				assert.Empty(t, v.Reason)
			} else {
				assert.Nil(t, v.Op)
				assert.Contains(t, v.Reason, tt.reason)
			}
		})
	}
}

func TestClassify_SignalsPublishedInPipeline(t *testing.T) {
	scan := testScan(t)
	binOnExt := step("bin", map[string]any{"field": "a", "extent": map[string]any{"signal": "ext"}})

	assert.False(t, scan.Resolvable("ext"))
	assert.False(t, scan.Pushable(binOnExt))

	require.True(t, scan.Pushable(step("extent", map[string]any{"field": "a", "signal": "ext"})))
	assert.True(t, scan.Resolvable("ext"))

	v := scan.Classify(binOnExt)
	require.True(t, v.Pushable, v.Reason)
	assert.Equal(t, queryir.Sig("ext"), v.Op.(queryir.Bin).Extent)
}

func TestClassify_ClientPublishedSignal(t *testing.T) {
	scan := testScan(t, "ext")
	require.True(t, scan.Resolvable("ext"))

	// A client step publishing the same name shadows the pushed value.
	assert.False(t, scan.Pushable(step("extent", map[string]any{"field": "a", "signal": "ext", "foo": true})))
	assert.False(t, scan.Resolvable("ext"))
	assert.False(t, scan.Pushable(step("bin", map[string]any{"field": "a", "extent": map[string]any{"signal": "ext"}})))
}

func TestClassify_SeedIsPerScan(t *testing.T) {
	c := NewClassifier(parseDoc(t, signalsDoc))
	a := c.Scan()
	a.Classify(step("extent", map[string]any{"field": "a", "signal": "ext"}))

	assert.True(t, a.Resolvable("ext"))
	assert.False(t, c.Scan().Resolvable("ext"))
}

func TestClassify_AggregateTranslation(t *testing.T) {
	v := testScan(t).Classify(step("aggregate", map[string]any{
		"groupby": []any{"carrier", map[string]any{"signal": "field"}},
		"fields":  []any{"delay", nil, "delay"},
		"ops":     []any{"mean", "count", "max"},
		"as":      []any{nil, "n"},
		"key":     "carrier",
	}))
	require.True(t, v.Pushable, v.Reason)

	delay := queryir.Field("delay")
	assert.Equal(t, queryir.Aggregate{
		GroupBy: []queryir.FieldRef{queryir.Field("carrier"), queryir.FieldSignal("field")},
		Measures: []queryir.Measure{
			{Op: "mean", Field: &delay, As: "mean_delay"},
			{Op: "count", As: "n"},
			{Op: "max", Field: &delay, As: "max_delay"},
		},
	}, v.Op)
}

func TestClassify_EmptyAggregateCounts(t *testing.T) {
	v := testScan(t).Classify(step("aggregate", map[string]any{}))
	require.True(t, v.Pushable, v.Reason)
	assert.Equal(t, queryir.Aggregate{Measures: []queryir.Measure{{Op: "count", As: "count"}}}, v.Op)
}

func TestTranslateExpr(t *testing.T) {
	a := queryir.Column{Field: queryir.Field("a")}
	b := queryir.Column{Field: queryir.Field("b")}
	one := queryir.Literal{Value: 1.0}

	tests := []struct {
		expr string
		want queryir.Scalar
	}{
		{"datum.a == null", queryir.IsNull{X: a}},
		{"null !== datum.a", queryir.IsNull{X: a, Negate: true}},
		{"datum.a !== 1", queryir.Binary{Op: "<>", Left: a, Right: one}},
		{"datum.a === 'x'", queryir.Binary{Op: "=", Left: a, Right: queryir.Literal{Value: "x"}}},
		{"!(datum.a > 1) || datum.b <= 2", queryir.Binary{
			Op:    "OR",
			Left:  queryir.Unary{Op: queryir.OpNot, X: queryir.Binary{Op: ">", Left: a, Right: one}},
			Right: queryir.Binary{Op: "<=", Left: b, Right: queryir.Literal{Value: 2.0}},
		}},
		{"-datum.a < +datum.b", queryir.Binary{Op: "<", Left: queryir.Unary{Op: queryir.OpNeg, X: a}, Right: b}},
		{"(datum.a > 1 ? datum.b : 0) < 5", queryir.Binary{
			Op: "<",
			Left: queryir.Case{
				Test: queryir.Binary{Op: ">", Left: a, Right: one},
				Then: b,
				Else: queryir.Literal{Value: 0.0},
			},
			Right: queryir.Literal{Value: 5.0},
		}},
		{"if(isValid(datum.a), abs(datum.a), 0) > width", queryir.Binary{
			Op: ">",
			Left: queryir.Case{
				Test: queryir.IsNull{X: a, Negate: true},
				Then: queryir.Func{Name: "abs", Args: []queryir.Scalar{a}},
				Else: queryir.Literal{Value: 0.0},
			},
			Right: queryir.Param{Signal: "width"},
		}},
		{"lower(datum['a']) == 'x' && datum.b % 2 == 0", queryir.Binary{
			Op:    "AND",
			Left:  queryir.Binary{Op: "=", Left: queryir.Func{Name: "lower", Args: []queryir.Scalar{a}}, Right: queryir.Literal{Value: "x"}},
			Right: queryir.Binary{Op: "=", Left: queryir.Binary{Op: "%", Left: b, Right: queryir.Literal{Value: 2.0}}, Right: queryir.Literal{Value: 0.0}},
		}},
		{"datum.a >= ext[0] && datum.a < ext[1]", queryir.Binary{
			Op:    "AND",
			Left:  queryir.Binary{Op: ">=", Left: a, Right: queryir.Param{Signal: "ext", Path: []string{"0"}}},
			Right: queryir.Binary{Op: "<", Left: a, Right: queryir.Param{Signal: "ext", Path: []string{"1"}}},
		}},
		{"datum[field] != null", queryir.IsNull{X: queryir.Column{Field: queryir.FieldSignal("field")}, Negate: true}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v := testScan(t, "ext").Classify(step("filter", map[string]any{"expr": tt.expr}))
			require.True(t, v.Pushable, v.Reason)
			assert.Equal(t, queryir.Filter{Predicate: tt.want}, v.Op)
		})
	}
}
