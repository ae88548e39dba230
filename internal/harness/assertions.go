package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/vegaplus/internal/vgspec"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Source   string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Source != "" {
		fmt.Fprintf(&buf, " (source %s)", e.Source)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	rewriteErrorExpected := false

	for i, a := range assertions {
		var err error
		if a.Type == AssertRewriteError {
			rewriteErrorExpected = true
			err = assertRewriteError(result, a)
		} else {
			err = assertSource(result, a)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	if result.RewriteError != "" && !rewriteErrorExpected {
		errors = append(errors, fmt.Sprintf("rewrite failed unexpectedly: %s", result.RewriteError))
	}
	return errors
}

func assertRewriteError(result *Result, a Assertion) error {
	if result.RewriteError == a.Code {
		return nil
	}
	actual := result.RewriteError
	if actual == "" {
		actual = "rewrite succeeded"
	}
	return &AssertionError{Type: a.Type, Expected: a.Code, Actual: actual}
}

func assertSource(result *Result, a Assertion) error {
	fail := func(expected, actual string, args ...any) error {
		return &AssertionError{
			Type:     a.Type,
			Source:   a.Source,
			Expected: expected,
			Actual:   fmt.Sprintf(actual, args...),
		}
	}

	out, ok := result.Source(a.Source)
	if !ok {
		return fail("data source present", "no data source %q", a.Source)
	}
	if a.Type != AssertUnchanged && !out.Rewritten {
		return fail("rewritten source", "unchanged: %s", out.Reason)
	}

	switch a.Type {
	case AssertRewritten:
		if a.Pushed != nil && *a.Pushed != out.Pushed {
			return fail(fmt.Sprintf("%d pushed steps", *a.Pushed), "%d pushed steps", out.Pushed)
		}

	case AssertUnchanged:
		if out.Rewritten {
			return fail("unchanged source", "rewritten with %d pushed steps", out.Pushed)
		}
		if a.Reason != "" && !strings.Contains(out.Reason, a.Reason) {
			return fail(fmt.Sprintf("reason containing %q", a.Reason), "%q", out.Reason)
		}

	case AssertOutputColumns:
		if !slices.Equal(a.Columns, out.Columns) {
			return fail(fmt.Sprintf("columns %v", a.Columns), "columns %v", out.Columns)
		}

	case AssertRowCount:
		if len(out.Rows) != *a.Count {
			return fail(fmt.Sprintf("%d rows", *a.Count), "%d rows", len(out.Rows))
		}

	case AssertRowsContain:
		for _, row := range out.Rows {
			if matchRow(row, a.Row) {
				return nil
			}
		}
		return fail(fmt.Sprintf("a row matching %v", a.Row), "%d rows, none matching", len(out.Rows))

	case AssertSignal:
		v, ok := out.Signals[a.Signal]
		if !ok {
			return fail(fmt.Sprintf("signal %s", a.Signal), "not published")
		}
		if a.Value != nil && !valuesEqual(a.Value, v) {
			return fail(fmt.Sprintf("%s = %v", a.Signal, a.Value), "%s = %v", a.Signal, v)
		}
	}
	return nil
}

// matchRow checks if actual contains all expected values (subset match).
// Extra keys in actual are ignored.
func matchRow(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares an expected value from a scenario file with a
// value read from the database. Numbers compare by value regardless of
// their Go type; maps and slices compare element-wise.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if e, ok := vgspec.Number(expected); ok {
		a, ok := vgspec.Number(actual)
		return ok && e == a
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		if act, ok := actual.(bool); ok {
			return exp == act
		}
		// sqlite stores booleans as integers
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		return false
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesEqual(exp[i], act[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		return matchRow(act, exp)
	default:
		return false
	}
}
