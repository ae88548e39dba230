package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vegaplus/internal/canonical"
)

// Snapshot captures the outcome of a scenario for golden comparison.
type Snapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a snapshot to plain JSON values for canonical
// serialization. Assertion messages are left out; they are checked by Pass.
func (s *Snapshot) toCanonicalMap() map[string]any {
	sources := make([]any, len(s.Result.Sources))
	for i, o := range s.Result.Sources {
		m := map[string]any{
			"source":    o.Source,
			"rewritten": o.Rewritten,
		}
		if o.Rewritten {
			rows := make([]any, len(o.Rows))
			for j, r := range o.Rows {
				rows[j] = r
			}
			m["pushed"] = o.Pushed
			m["residual"] = o.Residual
			m["table"] = o.Table
			m["columns"] = o.Columns
			m["sql"] = o.SQL
			m["signals"] = o.Signals
			m["rows"] = rows
		} else {
			m["reason"] = o.Reason
		}
		sources[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"pass":          s.Result.Pass,
		"sources":       sources,
	}
	if s.Result.RewriteError != "" {
		out["rewrite_error"] = s.Result.RewriteError
	}
	return out
}

// MarshalSnapshot returns the canonical JSON snapshot of a result, the
// content of its golden file.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{ScenarioName: scenarioName, Result: result}
	return canonical.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its outcome against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a result against the named golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
