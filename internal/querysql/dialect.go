package querysql

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a dialect has no rendering for an
// expression, e.g. sqrt on a sqlite build without math functions.
var ErrUnsupported = errors.New("not supported by dialect")

// Dialect selects the SQL flavor a descriptor is compiled to.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect validates a dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(name)); d {
	case SQLite, Postgres:
		return d, nil
	case "sqlite3":
		return SQLite, nil
	case "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unknown SQL dialect %q (want sqlite or postgres)", name)
	}
}

// Placeholder returns the numbered parameter marker for the n-th argument,
// counting from 1. Numbered markers let one argument appear several times.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return fmt.Sprintf("?%d", n)
}

// Quote returns name as a quoted identifier.
func (d Dialect) Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// real casts x to a floating point type.
func (d Dialect) real(x string) string {
	if d == Postgres {
		return "CAST(" + x + " AS DOUBLE PRECISION)"
	}
	return "CAST(" + x + " AS REAL)"
}

// number renders a numeric argument marker. Postgres needs the type to
// resolve operators over parameters.
func (d Dialect) number(n int) string {
	if d == Postgres {
		return d.Placeholder(n) + "::double precision"
	}
	return d.Placeholder(n)
}

// floor rounds x toward negative infinity. The sqlite form avoids the
// optional math extension: truncate, then step down for negative fractions.
func (d Dialect) floor(x string) string {
	if d == Postgres {
		return "FLOOR(" + x + ")"
	}
	return fmt.Sprintf("(CAST(%[1]s AS INTEGER) - (%[1]s < CAST(%[1]s AS INTEGER)))", x)
}

func (d Dialect) ceil(x string) string {
	if d == Postgres {
		return "CEIL(" + x + ")"
	}
	return "(-" + d.floor("-("+x+")") + ")"
}

// same renders null-safe equality (or inequality when negate is set):
// NULL equals NULL and differs from every value.
func (d Dialect) same(a, b string, negate bool) string {
	if d == Postgres {
		if negate {
			return "(" + a + " IS DISTINCT FROM " + b + ")"
		}
		return "(" + a + " IS NOT DISTINCT FROM " + b + ")"
	}
	if negate {
		return "(" + a + " IS NOT " + b + ")"
	}
	return "(" + a + " IS " + b + ")"
}

// mod renders the truncated remainder a - b * trunc(a / b), keeping the
// fraction and the sign of a. A zero divisor yields NULL.
func (d Dialect) mod(a, b string) string {
	x := d.real(a)
	if d == Postgres {
		return fmt.Sprintf("(%[1]s - %[2]s * TRUNC(%[1]s / NULLIF(%[2]s, 0)))", x, b)
	}
	return fmt.Sprintf("(%[1]s - %[2]s * CAST(%[1]s / NULLIF(%[2]s, 0) AS INTEGER))", x, b)
}

func (d Dialect) least(a, b string) string {
	if d == Postgres {
		return "LEAST(" + a + ", " + b + ")"
	}
	return "MIN(" + a + ", " + b + ")"
}

func (d Dialect) sqrt(x string) (string, error) {
	if d == Postgres {
		return "SQRT(" + x + ")", nil
	}
	return "", fmt.Errorf("sqrt: %w %s", ErrUnsupported, d)
}

// variance renders the sample (or population) variance of x. sqlite has no
// statistical aggregates, so it expands to sums of squares.
func (d Dialect) variance(x string, population bool) string {
	if d == Postgres {
		if population {
			return "VAR_POP(" + d.real(x) + ")"
		}
		return "VAR_SAMP(" + d.real(x) + ")"
	}
	r := d.real(x)
	n := "COUNT(" + x + ")"
	if !population {
		n += " - 1"
	}
	return fmt.Sprintf("((SUM(%[1]s * %[1]s) - SUM(%[1]s) * SUM(%[1]s) / COUNT(%[2]s)) / (%[3]s))", r, x, n)
}

func (d Dialect) stdev(x string, population bool) (string, error) {
	if d == Postgres {
		if population {
			return "STDDEV_POP(" + d.real(x) + ")", nil
		}
		return "STDDEV_SAMP(" + d.real(x) + ")", nil
	}
	return "", fmt.Errorf("stdev: %w %s", ErrUnsupported, d)
}
