package querysql

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vegaplus/internal/queryir"
)

func histogram() queryir.Descriptor {
	bin0 := queryir.Field("bin0")
	return queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{
			queryir.Extent{Field: queryir.FieldSignal("field"), Signal: "extent"},
			queryir.Bin{
				Field:   queryir.FieldSignal("field"),
				Extent:  queryir.Sig("extent"),
				MaxBins: queryir.Sig("maxbins"),
				Nice:    queryir.Lit(false),
				As:      [2]string{"bin0", "bin1"},
				Signal:  "bins",
			},
			queryir.Aggregate{
				GroupBy:  []queryir.FieldRef{queryir.Field("bin0"), queryir.Field("bin1")},
				Measures: []queryir.Measure{{Op: "count", Field: &bin0, As: "count"}},
			},
		},
		OutputColumns: []string{"bin0", "bin1", "count"},
		Signals:       []string{"extent", "bins"},
	}
}

func filtered() queryir.Descriptor {
	return queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{queryir.Filter{Predicate: queryir.Binary{
			Op:    "AND",
			Left:  queryir.Binary{Op: ">", Left: queryir.Column{Field: queryir.Field("DISTANCE")}, Right: queryir.Literal{Value: 100.0}},
			Right: queryir.IsNull{X: queryir.Column{Field: queryir.Field("ARR_DELAY")}, Negate: true},
		}}},
		OutputColumns: []string{"ARR_DELAY", "DISTANCE", "carrier"},
	}
}

func carrierMean() queryir.Descriptor {
	delay := queryir.Field("ARR_DELAY")
	return queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{
			queryir.Filter{Predicate: queryir.Binary{
				Op: "=", Left: queryir.Column{Field: queryir.Field("origin")}, Right: queryir.Param{Signal: "origin"},
			}},
			queryir.Aggregate{
				GroupBy: []queryir.FieldRef{queryir.Field("carrier")},
				Measures: []queryir.Measure{
					{Op: "mean", Field: &delay, As: "mean_ARR_DELAY"},
					{Op: "count", As: "n"},
				},
			},
		},
		OutputColumns: []string{"carrier", "mean_ARR_DELAY", "n"},
	}
}

func TestCompile_Golden(t *testing.T) {
	histogramSignals := map[string]any{
		"field":   "DISTANCE",
		"maxbins": int64(10),
		"extent":  []any{0.0, 100.0},
	}

	tests := []struct {
		name    string
		desc    queryir.Descriptor
		signals map[string]any
		args    []any
	}{
		{"histogram", histogram(), histogramSignals, []any{0.0, 100.0, 10.0}},
		{"filter", filtered(), nil, []any{100.0}},
		{"carrier_mean", carrierMean(), map[string]any{"origin": "SFO"}, []any{"SFO"}},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		for _, dialect := range []Dialect{SQLite, Postgres} {
			t.Run(tt.name+"_"+string(dialect), func(t *testing.T) {
				sql, args, err := NewCompiler(dialect, tt.signals).Compile(tt.desc)
				require.NoError(t, err)
				assert.Equal(t, tt.args, args)
				g.Assert(t, tt.name+"_"+string(dialect), []byte(sql+"\n"))
			})
		}
	}
}

func TestCompile_ValuesAreParameters(t *testing.T) {
	desc := queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{queryir.Filter{Predicate: queryir.Binary{
			Op:    "=",
			Left:  queryir.Column{Field: queryir.Field("carrier")},
			Right: queryir.Literal{Value: "x'; DROP TABLE flights; --"},
		}}},
		OutputColumns: []string{queryir.Wildcard},
	}

	sql, args, err := NewCompiler(SQLite, nil).Compile(desc)
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"x'; DROP TABLE flights; --"}, args)
	assert.Equal(t, `SELECT * FROM (SELECT * FROM (SELECT * FROM "flights") AS q1 WHERE ("carrier" IS ?1)) AS q`, sql)
}

func TestCompile_QuotesIdentifiers(t *testing.T) {
	desc := queryir.Descriptor{
		SourceTable:    `my "table"`,
		Operations:     []queryir.Operation{queryir.Extent{Field: queryir.Field("x")}},
		OutputColumns:  []string{"a"},
		DynamicColumns: []string{"pick"},
	}

	sql, _, err := NewCompiler(Postgres, map[string]any{"pick": `b"; --`}).Compile(desc)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "a", "b""; --" FROM (SELECT * FROM "my ""table""") AS q`, sql)
}

func TestCompile_Projection(t *testing.T) {
	base := queryir.Descriptor{
		SourceTable: "t",
		Operations:  []queryir.Operation{queryir.Extent{Field: queryir.Field("x")}},
	}

	tests := []struct {
		name    string
		output  []string
		dynamic []string
		want    string
	}{
		{"wildcard", []string{queryir.Wildcard}, []string{"field"}, "*"},
		{"dynamic appended", []string{"a"}, []string{"field"}, `"a", "DISTANCE"`},
		{"dynamic already listed", []string{"DISTANCE", "a"}, []string{"field"}, `"DISTANCE", "a"`},
		{"only dynamic", nil, []string{"field"}, `"DISTANCE"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			d.OutputColumns = tt.output
			d.DynamicColumns = tt.dynamic

			sql, _, err := NewCompiler(SQLite, map[string]any{"field": "DISTANCE"}).Compile(d)
			require.NoError(t, err)
			assert.Equal(t, "SELECT "+tt.want+` FROM (SELECT * FROM "t") AS q`, sql)
		})
	}
}

var scalarSignals = map[string]any{
	"bins":  map[string]any{"start": 5.0, "stop": nil},
	"ext":   []any{int64(1), int64(9)},
	"name":  "SFO",
	"field": "b",
}

func TestCompile_Values(t *testing.T) {
	a := queryir.Column{Field: queryir.Field("a")}
	two := queryir.Literal{Value: 2.0}

	tests := []struct {
		name    string
		dialect Dialect
		expr    queryir.Scalar
		want    string
		args    []any
	}{
		{"neg", SQLite, queryir.Unary{Op: queryir.OpNeg, X: a}, `(-COALESCE("a", 0))`, nil},
		{"division", SQLite, queryir.Binary{Op: "/", Left: a, Right: two}, `(CAST(COALESCE("a", 0) AS REAL) / ?1)`, []any{2.0}},
		{"division postgres", Postgres, queryir.Binary{Op: "/", Left: a, Right: two}, `(CAST(COALESCE("a", 0) AS DOUBLE PRECISION) / $1::double precision)`, []any{2.0}},
		{"remainder", SQLite, queryir.Binary{Op: "%", Left: a, Right: two},
			`(CAST(COALESCE("a", 0) AS REAL) - ?1 * CAST(CAST(COALESCE("a", 0) AS REAL) / NULLIF(?1, 0) AS INTEGER))`, []any{2.0}},
		{"remainder postgres", Postgres, queryir.Binary{Op: "%", Left: a, Right: two},
			`(CAST(COALESCE("a", 0) AS DOUBLE PRECISION) - $1::double precision * TRUNC(CAST(COALESCE("a", 0) AS DOUBLE PRECISION) / NULLIF($1::double precision, 0)))`, []any{2.0}},
		{"null signal", SQLite, queryir.Param{Signal: "bins", Path: []string{"stop"}}, `NULL`, nil},
		{"signal column", SQLite, queryir.Column{Field: queryir.FieldSignal("field")}, `"b"`, nil},
		{"abs", SQLite, queryir.Func{Name: "abs", Args: []queryir.Scalar{a}}, `ABS(COALESCE("a", 0))`, nil},
		{"lower", Postgres, queryir.Func{Name: "lower", Args: []queryir.Scalar{a}}, `LOWER("a")`, nil},
		{"floor sqlite", SQLite, queryir.Func{Name: "floor", Args: []queryir.Scalar{a}},
			`(CAST(COALESCE("a", 0) AS INTEGER) - (COALESCE("a", 0) < CAST(COALESCE("a", 0) AS INTEGER)))`, nil},
		{"floor postgres", Postgres, queryir.Func{Name: "floor", Args: []queryir.Scalar{a}}, `FLOOR(COALESCE("a", 0))`, nil},
		{"ceil postgres", Postgres, queryir.Func{Name: "ceil", Args: []queryir.Scalar{a}}, `CEIL(COALESCE("a", 0))`, nil},
		{"sqrt postgres", Postgres, queryir.Func{Name: "sqrt", Args: []queryir.Scalar{a}}, `SQRT(COALESCE("a", 0))`, nil},
		{"case", SQLite, queryir.Case{Test: queryir.IsNull{X: a, Negate: true}, Then: a, Else: queryir.Literal{Value: 0.0}},
			`(CASE WHEN ("a" IS NOT NULL) THEN "a" ELSE ?1 END)`, []any{0.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewCompiler(tt.dialect, scalarSignals).newQuery()
			got, err := q.scalar(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, q.args)
		})
	}
}

func TestCompile_Predicates(t *testing.T) {
	a := queryir.Column{Field: queryir.Field("a")}
	one := queryir.Literal{Value: 1.0}
	aAboveOne := queryir.Binary{Op: ">", Left: a, Right: one}

	tests := []struct {
		name    string
		dialect Dialect
		expr    queryir.Scalar
		want    string
		args    []any
	}{
		{"ordering reads null as zero", SQLite, aAboveOne, `(COALESCE("a", 0) > ?1)`, []any{1.0}},
		{"not stays two-valued", SQLite, queryir.Unary{Op: queryir.OpNot, X: aAboveOne}, `(NOT (COALESCE("a", 0) > ?1))`, []any{1.0}},
		{"not equal keeps null", SQLite, queryir.Binary{Op: "<>", Left: a, Right: one}, `("a" IS NOT ?1)`, []any{1.0}},
		{"not equal postgres", Postgres, queryir.Binary{Op: "<>", Left: a, Right: one}, `("a" IS DISTINCT FROM $1::double precision)`, []any{1.0}},
		{"is null", SQLite, queryir.IsNull{X: a}, `("a" IS NULL)`, nil},
		{"equal null literal", SQLite, queryir.Binary{Op: "=", Left: a, Right: queryir.Literal{}}, `("a" IS NULL)`, nil},
		{"equal bool postgres", Postgres, queryir.Binary{Op: "=", Left: a, Right: queryir.Literal{Value: true}}, `("a" IS NOT DISTINCT FROM $1)`, []any{true}},
		{"equal string signal", SQLite, queryir.Binary{Op: "=", Left: a, Right: queryir.Param{Signal: "name"}}, `("a" IS ?1)`, []any{"SFO"}},
		{"signal path", SQLite, queryir.Binary{Op: ">=", Left: a, Right: queryir.Param{Signal: "bins", Path: []string{"start"}}}, `(COALESCE("a", 0) >= ?1)`, []any{5.0}},
		{"signal index", SQLite, queryir.Binary{Op: "<", Left: a, Right: queryir.Param{Signal: "ext", Path: []string{"1"}}}, `(COALESCE("a", 0) < ?1)`, []any{9.0}},
		{"null signal ordering", SQLite, queryir.Binary{Op: "<", Left: a, Right: queryir.Param{Signal: "bins", Path: []string{"stop"}}}, `(COALESCE("a", 0) < 0)`, nil},
		{"bool ordering", SQLite, queryir.Binary{Op: ">", Left: a, Right: queryir.Literal{Value: true}}, `(COALESCE("a", 0) > ?1)`, []any{1.0}},
		{"string ordering", SQLite, queryir.Binary{Op: "<", Left: a, Right: queryir.Literal{Value: "m"}}, `COALESCE(("a" < ?1), FALSE)`, []any{"m"}},
		{"division may be null", SQLite, queryir.Binary{Op: ">", Left: queryir.Binary{Op: "/", Left: a, Right: queryir.Literal{Value: 2.0}}, Right: one},
			`COALESCE(((CAST(COALESCE("a", 0) AS REAL) / ?1) > ?2), FALSE)`, []any{2.0, 1.0}},
		{"true literal", SQLite, queryir.Literal{Value: true}, `TRUE`, nil},
		{"truthy signal", SQLite, queryir.Param{Signal: "name"}, `TRUE`, nil},
		{"null signal", SQLite, queryir.Param{Signal: "bins", Path: []string{"stop"}}, `FALSE`, nil},
		{"or", SQLite, queryir.Binary{Op: "OR", Left: queryir.Unary{Op: queryir.OpNot, X: aAboveOne}, Right: queryir.IsNull{X: a}},
			`((NOT (COALESCE("a", 0) > ?1)) OR ("a" IS NULL))`, []any{1.0}},
		{"case", SQLite, queryir.Case{Test: queryir.IsNull{X: a}, Then: queryir.Literal{Value: true}, Else: aAboveOne},
			`(CASE WHEN ("a" IS NULL) THEN TRUE ELSE (COALESCE("a", 0) > ?1) END)`, []any{1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewCompiler(tt.dialect, scalarSignals).newQuery()
			got, err := q.predicate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, q.args)
		})
	}
}

func TestCompile_PositionErrors(t *testing.T) {
	a := queryir.Column{Field: queryir.Field("a")}

	_, err := NewCompiler(SQLite, nil).newQuery().predicate(a)
	assert.ErrorContains(t, err, "is not a condition")

	_, err = NewCompiler(SQLite, nil).newQuery().scalar(queryir.IsNull{X: a})
	assert.ErrorContains(t, err, "is used as a value")
}

func TestCompile_Measures(t *testing.T) {
	x := queryir.Field("x")

	tests := []struct {
		op      string
		dialect Dialect
		want    string
	}{
		{"count", SQLite, `COUNT(*)`},
		{"valid", SQLite, `COUNT("x")`},
		{"missing", SQLite, `COUNT(*) - COUNT("x")`},
		{"distinct", SQLite, `COUNT(DISTINCT "x")`},
		{"sum", SQLite, `COALESCE(SUM("x"), 0)`},
		{"mean", SQLite, `AVG(CAST("x" AS REAL))`},
		{"average", Postgres, `AVG(CAST("x" AS DOUBLE PRECISION))`},
		{"min", SQLite, `MIN("x")`},
		{"max", Postgres, `MAX("x")`},
		{"variance", Postgres, `VAR_SAMP(CAST("x" AS DOUBLE PRECISION))`},
		{"variancep", Postgres, `VAR_POP(CAST("x" AS DOUBLE PRECISION))`},
		{"stdev", Postgres, `STDDEV_SAMP(CAST("x" AS DOUBLE PRECISION))`},
		{"stdevp", Postgres, `STDDEV_POP(CAST("x" AS DOUBLE PRECISION))`},
		{"variance", SQLite, `((SUM(CAST("x" AS REAL) * CAST("x" AS REAL)) - SUM(CAST("x" AS REAL)) * SUM(CAST("x" AS REAL)) / COUNT("x")) / (COUNT("x") - 1))`},
		{"variancep", SQLite, `((SUM(CAST("x" AS REAL) * CAST("x" AS REAL)) - SUM(CAST("x" AS REAL)) * SUM(CAST("x" AS REAL)) / COUNT("x")) / (COUNT("x")))`},
	}

	for _, tt := range tests {
		t.Run(tt.op+"_"+string(tt.dialect), func(t *testing.T) {
			got, err := NewCompiler(tt.dialect, nil).newQuery().measure(queryir.Measure{Op: tt.op, Field: &x, As: "m"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_Unsupported(t *testing.T) {
	x := queryir.Field("x")
	_, err := NewCompiler(SQLite, nil).newQuery().measure(queryir.Measure{Op: "stdev", Field: &x, As: "s"})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewCompiler(SQLite, nil).newQuery().scalar(queryir.Func{Name: "sqrt", Args: []queryir.Scalar{queryir.Column{Field: x}}})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCompile_UnboundSignal(t *testing.T) {
	tests := []struct {
		name    string
		desc    queryir.Descriptor
		signals map[string]any
	}{
		{"bin extent", histogram(), map[string]any{"field": "DISTANCE", "maxbins": 10.0}},
		{"field", histogram(), map[string]any{"maxbins": 10.0, "extent": []any{0.0, 1.0}}},
		{"filter param", carrierMean(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewCompiler(SQLite, tt.signals).Compile(tt.desc)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnboundSignal)
		})
	}
}

func TestCompile_FieldSignalMustNameColumn(t *testing.T) {
	_, _, err := NewCompiler(SQLite, map[string]any{"field": 3.0, "maxbins": 10.0, "extent": []any{0.0, 1.0}}).Compile(histogram())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `signal "field" must name a column`)
}

func TestCompileExtent(t *testing.T) {
	sql, args, err := NewCompiler(SQLite, map[string]any{"field": "DISTANCE"}).CompileExtent(histogram(), 0)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Equal(t,
		`SELECT MIN(CAST("DISTANCE" AS REAL)) AS "min", MAX(CAST("DISTANCE" AS REAL)) AS "max" FROM (SELECT * FROM "flights") AS q`,
		sql)

	// Operations before the extent are applied first.
	d := filtered()
	d.Operations = append(d.Operations, queryir.Extent{Field: queryir.Field("ARR_DELAY"), Signal: "e"})
	sql, args, err = NewCompiler(Postgres, nil).CompileExtent(d, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{100.0}, args)
	assert.Equal(t,
		`SELECT MIN(CAST("ARR_DELAY" AS DOUBLE PRECISION)) AS "min", MAX(CAST("ARR_DELAY" AS DOUBLE PRECISION)) AS "max" FROM (SELECT * FROM (SELECT * FROM "flights") AS q1 WHERE ((COALESCE("DISTANCE", 0) > $1::double precision) AND ("ARR_DELAY" IS NOT NULL))) AS q`,
		sql)

	_, _, err = NewCompiler(SQLite, nil).CompileExtent(histogram(), 2)
	assert.ErrorContains(t, err, "not extent")
	_, _, err = NewCompiler(SQLite, nil).CompileExtent(histogram(), 7)
	assert.ErrorContains(t, err, "out of range")
}

func TestCompile_IntervalFalseBinsOneColumn(t *testing.T) {
	desc := queryir.Descriptor{
		SourceTable: "t",
		Operations: []queryir.Operation{queryir.Bin{
			Field:    queryir.Field("x"),
			Extent:   queryir.Lit([]any{0.0, 10.0}),
			Interval: queryir.Lit(false),
			As:       [2]string{"b0", "b1"},
		}},
		OutputColumns: []string{"b0"},
	}

	sql, _, err := NewCompiler(Postgres, nil).Compile(desc)
	require.NoError(t, err)
	assert.Contains(t, sql, `AS "b0"`)
	assert.NotContains(t, sql, `"b1"`)
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"sqlite": SQLite, "SQLite3": SQLite, "postgres": Postgres, "postgresql": Postgres, "pgx": Postgres,
	} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}
