package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/vegaplus/internal/executor"
	"github.com/roach88/vegaplus/internal/querysql"
)

// maxParams bounds the arguments of one INSERT, below sqlite's oldest
// variable limit.
const maxParams = 999

// Table is an in-memory dataset. Rows hold nil, bool, float64 or string
// values in column order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// CreateTableSQL returns the statement creating table with schema, if it
// does not exist yet.
func CreateTableSQL(d querysql.Dialect, table string, schema Schema) string {
	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = d.Quote(c.Name) + " " + c.Type.SQLType(d)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), strings.Join(cols, ", "))
}

// InsertSQL returns a parameterized statement inserting rows rows of the
// given columns.
func InsertSQL(d querysql.Dialect, table string, columns []string, rows int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.Quote(table), strings.Join(quoted, ", "))
	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(d.Placeholder(n))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Load creates t in the database if needed and inserts its rows. Rows are
// appended to an existing table, so loading twice duplicates them.
func Load(ctx context.Context, exec executor.Executor, t *Table) (Schema, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("table has no name")
	}
	schema, err := InferSchema(t)
	if err != nil {
		return nil, err
	}
	d := exec.Dialect()
	if err := exec.Exec(ctx, CreateTableSQL(d, t.Name, schema)); err != nil {
		return nil, fmt.Errorf("create table %s: %w", t.Name, err)
	}
	if len(t.Columns) == 0 {
		return schema, nil
	}

	batch := maxParams / len(t.Columns)
	if batch == 0 {
		return nil, fmt.Errorf("table %s has too many columns (%d)", t.Name, len(t.Columns))
	}
	for start := 0; start < len(t.Rows); start += batch {
		end := min(start+batch, len(t.Rows))
		args := make([]any, 0, (end-start)*len(t.Columns))
		for i, row := range t.Rows[start:end] {
			if len(row) != len(t.Columns) {
				return nil, fmt.Errorf("table %s row %d has %d values, want %d", t.Name, start+i, len(row), len(t.Columns))
			}
			args = append(args, row...)
		}
		if err := exec.Exec(ctx, InsertSQL(d, t.Name, t.Columns, end-start), args...); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
	}
	return schema, nil
}
