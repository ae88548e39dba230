package executor

import (
	"context"
	"fmt"

	"github.com/roach88/vegaplus/internal/querysql"
)

// Executor runs SQL on one database.
type Executor interface {
	// Dialect is the SQL flavor the database accepts.
	Dialect() querysql.Dialect

	// Query runs a statement and reads every row.
	Query(ctx context.Context, sql string, args ...any) (*Rows, error)

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) error

	Close() error
}

// Rows is a fully read result set. Values hold nil, bool, int64, float64,
// string or time.Time.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	return len(r.Values)
}

// Records returns the rows as objects keyed by column name, the shape the
// renderer expects from an executor transform.
func (r *Rows) Records() []map[string]any {
	out := make([]map[string]any, len(r.Values))
	for i, row := range r.Values {
		rec := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			rec[col] = row[j]
		}
		out[i] = rec
	}
	return out
}

// Open connects to a database of the given dialect. For sqlite dsn is a
// file path or ":memory:"; for postgres it is a connection string.
func Open(ctx context.Context, dialect querysql.Dialect, dsn string) (Executor, error) {
	switch dialect {
	case querysql.SQLite:
		return OpenSQLite(dsn)
	case querysql.Postgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("no executor for dialect %q", dialect)
	}
}
