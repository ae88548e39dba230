package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/vegaplus/internal/querysql"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// ColumnType is the logical type of a loaded column.
type ColumnType string

const (
	Text    ColumnType = "text"
	Real    ColumnType = "real"
	Boolean ColumnType = "boolean"
)

// SQLType returns the column type used in CREATE TABLE.
func (t ColumnType) SQLType(d querysql.Dialect) string {
	switch t {
	case Real:
		if d == querysql.Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Inference is the outcome of inferring one column.
//
// This is a sealed interface - only Inferred and Unsupported implement it.
type Inference interface {
	inference()
}

// Inferred is a column with a known type.
type Inferred struct {
	Type ColumnType
}

// Unsupported is a column whose sample has no column type.
type Unsupported struct {
	Value any
}

func (Inferred) inference()    {}
func (Unsupported) inference() {}

// InferColumn infers a type from one sample value.
func InferColumn(sample any) Inference {
	switch sample.(type) {
	case string:
		return Inferred{Type: Text}
	case bool:
		return Inferred{Type: Boolean}
	}
	if _, ok := vgspec.Number(sample); ok {
		return Inferred{Type: Real}
	}
	return Unsupported{Value: sample}
}

// Column is one column of a schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema lists the columns of a table in order.
type Schema []Column

// Names returns the column names.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// UnsupportedError lists every column whose type could not be inferred.
type UnsupportedError struct {
	Table   string
	Columns map[string]any
}

func (e *UnsupportedError) Error() string {
	names := make([]string, 0, len(e.Columns))
	for name := range e.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s (sample %v)", name, e.Columns[name])
	}
	return fmt.Sprintf("table %q: unsupported column type: %s", e.Table, strings.Join(parts, ", "))
}

// InferSchema infers the schema of t from the first non-null value of each
// column.
func InferSchema(t *Table) (Schema, error) {
	schema := make(Schema, 0, len(t.Columns))
	unsupported := make(map[string]any)

	for j, name := range t.Columns {
		var sample any
		for _, row := range t.Rows {
			if j < len(row) && row[j] != nil {
				sample = row[j]
				break
			}
		}
		switch inf := InferColumn(sample).(type) {
		case Inferred:
			schema = append(schema, Column{Name: name, Type: inf.Type})
		case Unsupported:
			unsupported[name] = inf.Value
		}
	}
	if len(unsupported) > 0 {
		return nil, &UnsupportedError{Table: t.Name, Columns: unsupported}
	}
	return schema, nil
}
