package executor

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/querysql"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// openFlights returns an in-memory database with a small flights table.
func openFlights(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Exec(ctx, `CREATE TABLE flights ("carrier" TEXT, "origin" TEXT, "DISTANCE" REAL, "ARR_DELAY" REAL)`))
	rows := []struct {
		carrier, origin string
		distance, delay any
	}{
		{"AA", "SFO", 5.0, 10.0},
		{"AA", "JFK", 15.0, -4.0},
		{"UA", "SFO", 15.0, 20.0},
		{"UA", "SFO", 25.0, nil},
		{"DL", "JFK", 95.0, 2.0},
		{"DL", "SFO", nil, 6.0},
	}
	for _, r := range rows {
		require.NoError(t, db.Exec(ctx, `INSERT INTO flights VALUES (?1, ?2, ?3, ?4)`, r.carrier, r.origin, r.distance, r.delay))
	}
	return db
}

func quietRunner() *Runner {
	return NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSQLite_Query(t *testing.T) {
	db := openFlights(t)

	rows, err := db.Query(context.Background(), `SELECT "carrier", COUNT(*) AS "n" FROM flights GROUP BY "carrier" ORDER BY "carrier"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"carrier", "n"}, rows.Columns)
	assert.Equal(t, [][]any{{"AA", int64(2)}, {"DL", int64(2)}, {"UA", int64(2)}}, rows.Values)
	assert.Equal(t, map[string]any{"carrier": "AA", "n": int64(2)}, rows.Records()[0])
	assert.Equal(t, querysql.SQLite, db.Dialect())
}

func TestSQLite_QueryError(t *testing.T) {
	db := openFlights(t)
	_, err := db.Query(context.Background(), `SELECT * FROM missing`)
	assert.Error(t, err)
}

func TestRunner_Histogram(t *testing.T) {
	db := openFlights(t)
	bin0 := queryir.Field("bin0")
	desc := queryir.Descriptor{
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
	signals := map[string]any{"field": "DISTANCE", "maxbins": 10.0}

	res, err := quietRunner().Run(context.Background(), db, desc, signals)
	require.NoError(t, err)

	assert.NotEmpty(t, res.QueryID)
	assert.Len(t, res.DescriptorHash, 64)
	assert.Equal(t, []any{5.0, 95.0}, res.Signals["extent"])
	assert.Equal(t, map[string]any{"start": 5.0, "stop": 95.0, "step": 10.0}, res.Signals["bins"])
	assert.Equal(t, []any{5.0, 95.0, 10.0}, res.Args)
	assert.Equal(t, map[string]any{"field": "DISTANCE", "maxbins": 10.0}, signals, "input signals unchanged")

	assert.Equal(t, []string{"bin0", "bin1", "count"}, res.Rows.Columns)
	assert.Equal(t, [][]any{
		{nil, nil, int64(1)},
		{5.0, 15.0, int64(1)},
		{15.0, 25.0, int64(2)},
		{25.0, 35.0, int64(1)},
		{85.0, 95.0, int64(1)},
	}, res.Rows.Values)
}

func TestRunner_EmptyExtent(t *testing.T) {
	db := openFlights(t)
	desc := queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{
			queryir.Filter{Predicate: queryir.Binary{Op: "=", Left: queryir.Column{Field: queryir.Field("origin")}, Right: queryir.Literal{Value: "LAX"}}},
			queryir.Extent{Field: queryir.Field("DISTANCE"), Signal: "extent"},
			queryir.Bin{Field: queryir.Field("DISTANCE"), Extent: queryir.Sig("extent"), As: [2]string{"b0", "b1"}, Signal: "bins"},
		},
		OutputColumns: []string{"b0"},
	}

	res, err := quietRunner().Run(context.Background(), db, desc, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, res.Signals["extent"])
	assert.Equal(t, 0, res.Rows.Len())
}

func TestRunner_FilterAndMean(t *testing.T) {
	db := openFlights(t)
	delay := queryir.Field("ARR_DELAY")
	desc := queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{
			queryir.Filter{Predicate: queryir.Binary{Op: "=", Left: queryir.Column{Field: queryir.Field("origin")}, Right: queryir.Param{Signal: "origin"}}},
			queryir.Aggregate{
				GroupBy: []queryir.FieldRef{queryir.Field("carrier")},
				Measures: []queryir.Measure{
					{Op: "mean", Field: &delay, As: "mean_ARR_DELAY"},
					{Op: "valid", Field: &delay, As: "valid_ARR_DELAY"},
				},
			},
		},
		OutputColumns: []string{"carrier", "mean_ARR_DELAY", "valid_ARR_DELAY"},
	}

	res, err := quietRunner().Run(context.Background(), db, desc, map[string]any{"origin": "SFO"})
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	assert.Equal(t, [][]any{
		{"AA", 10.0, int64(1)},
		{"DL", 6.0, int64(1)},
		{"UA", 20.0, int64(1)},
	}, res.Rows.Values)
}

func TestRunner_DynamicColumn(t *testing.T) {
	db := openFlights(t)
	desc := queryir.Descriptor{
		SourceTable: "flights",
		Operations: []queryir.Operation{queryir.Filter{Predicate: queryir.Binary{
			Op: ">", Left: queryir.Column{Field: queryir.Field("DISTANCE")}, Right: queryir.Literal{Value: 20.0},
		}}},
		OutputColumns:  []string{"carrier"},
		DynamicColumns: []string{"field"},
	}

	res, err := quietRunner().Run(context.Background(), db, desc, map[string]any{"field": "ARR_DELAY"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carrier", "ARR_DELAY"}, res.Rows.Columns)
	assert.ElementsMatch(t, [][]any{{"UA", nil}, {"DL", 2.0}}, res.Rows.Values)
}

func TestRunner_Errors(t *testing.T) {
	db := openFlights(t)

	_, err := quietRunner().Run(context.Background(), db, queryir.Descriptor{
		SourceTable:   "flights",
		Operations:    []queryir.Operation{queryir.Extent{Field: queryir.FieldSignal("field"), Signal: "e"}},
		OutputColumns: []string{"carrier"},
	}, nil)
	assert.ErrorIs(t, err, querysql.ErrUnboundSignal)

	_, err = quietRunner().Run(context.Background(), db, queryir.Descriptor{
		SourceTable:   "nope",
		Operations:    []queryir.Operation{queryir.Extent{Field: queryir.Field("x"), Signal: "e"}},
		OutputColumns: []string{"x"},
	}, nil)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.SQL, `FROM "nope"`)
	assert.NotEmpty(t, qe.QueryID)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "abc", normalize([]byte("abc")))
	assert.Equal(t, int64(3), normalize(int32(3)))
	assert.Equal(t, 1.5, normalize(float32(1.5)))
	assert.Equal(t, 1.5, normalize(pgtype.Numeric{Int: big.NewInt(15), Exp: -1, Valid: true}))
	assert.Nil(t, normalize(pgtype.Numeric{}))
	assert.Nil(t, normalize(nil))
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), querysql.Dialect("mysql"), "")
	assert.ErrorContains(t, err, "no executor")
}

// pushedFilter rewrites a one-filter pipeline over table t whose rows are
// labelled by column s, and returns the descriptor of the pushed step.
func pushedFilter(t *testing.T, expr string) (queryir.Descriptor, bool) {
	t.Helper()
	spec := `{
	  "data": [{"name": "d", "relation": "t", "transform": [{"type": "filter", "expr": ` + strconv.Quote(expr) + `}]}],
	  "marks": [{"type": "text", "from": {"data": "d"}, "encode": {"enter": {"text": {"field": "s"}}}}]
	}`
	doc, err := vgspec.Parse([]byte(spec))
	require.NoError(t, err)
	plan, err := pushdown.NewRewriter(pushdown.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}).Plan(doc)
	require.NoError(t, err)
	rewritten := plan.Rewritten()
	if len(rewritten) == 0 {
		return queryir.Descriptor{}, false
	}
	return *rewritten[0].Descriptor, true
}

func TestRunner_FilterMatchesClientNullSemantics(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Exec(ctx, `CREATE TABLE t ("a" INTEGER, "s" TEXT)`))
	require.NoError(t, db.Exec(ctx, `INSERT INTO t VALUES (1, 'x'), (2, 'y'), (NULL, 'z')`))

	tests := []struct {
		expr string
		want []string
	}{
		{"datum.a != 1", []string{"y", "z"}},
		{"datum.a !== 1", []string{"y", "z"}},
		{"!(datum.a == 1)", []string{"y", "z"}},
		{"!(datum.a > 1)", []string{"x", "z"}},
		{"datum.a < 2", []string{"x", "z"}},
		{"datum.a == null", []string{"z"}},
		{"datum.a > 1 || datum.a == null", []string{"y", "z"}},
		{"datum.a % 2 == 0", []string{"y", "z"}},
		{"datum.a * 1.5 % 2 == 1", []string{"y"}},
		{"datum.s == 'x' || datum.s > 'x'", []string{"x", "y", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			desc, ok := pushedFilter(t, tt.expr)
			require.True(t, ok, "filter should be pushed")

			res, err := quietRunner().Run(ctx, db, desc, nil)
			require.NoError(t, err)
			var got []string
			for _, rec := range res.Rows.Records() {
				got = append(got, rec["s"].(string))
			}
			assert.ElementsMatch(t, tt.want, got, res.SQL)
		})
	}
}

func TestRunner_TruthinessFiltersStayOnClient(t *testing.T) {
	for _, expr := range []string{"datum.s", "!datum.s", "datum.a && datum.a > 0", "datum.a < datum.b"} {
		t.Run(expr, func(t *testing.T) {
			_, ok := pushedFilter(t, expr)
			assert.False(t, ok)
		})
	}
}

func TestRunner_BinOutsideLiteralExtent(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Exec(ctx, `CREATE TABLE t ("a" REAL)`))
	require.NoError(t, db.Exec(ctx, `INSERT INTO t VALUES (-3), (1), (7), (10), (12), (NULL)`))

	desc := queryir.Descriptor{
		SourceTable: "t",
		Operations: []queryir.Operation{queryir.Bin{
			Field:  queryir.Field("a"),
			Extent: queryir.Lit([]any{0.0, 10.0}),
			Step:   queryir.Lit(5.0),
			As:     [2]string{"bin0", "bin1"},
		}},
		OutputColumns: []string{"a", "bin0", "bin1"},
	}
	res, err := quietRunner().Run(ctx, db, desc, nil)
	require.NoError(t, err)

	type bin struct{ lo, hi any }
	got := make(map[any]bin)
	for _, rec := range res.Rows.Records() {
		got[rec["a"]] = bin{rec["bin0"], rec["bin1"]}
	}
	assert.Equal(t, map[any]bin{
		-3.0: {nil, nil},
		1.0:  {0.0, 5.0},
		7.0:  {5.0, 10.0},
		10.0: {5.0, 10.0},
		12.0: {nil, nil},
		nil:  {nil, nil},
	}, got)
}
