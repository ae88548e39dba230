package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vegaplus/internal/pushdown"
)

// Scenario defines an end-to-end rewrite test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is the path of the visualization spec (.json, .yaml or .cue),
	// relative to the scenario file.
	Spec string `yaml:"spec"`

	// Tables are loaded into the database before the rewrite.
	Tables []TableSpec `yaml:"tables,omitempty"`

	// Signals override the spec's signal defaults when queries run.
	Signals map[string]any `yaml:"signals,omitempty"`

	// ExecutorKind overrides the executor step type.
	ExecutorKind string `yaml:"executor_kind,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// TableSpec is a table loaded from a file or from inline records.
type TableSpec struct {
	// Name defaults to the file's table name.
	Name string `yaml:"name,omitempty"`

	// File is a .csv, .json or .yaml dataset, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	// Records is an inline array of objects.
	Records yaml.Node `yaml:"records,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type, see the package documentation.
	Type string `yaml:"type"`

	// Source is the data source the assertion is about.
	Source string `yaml:"source,omitempty"`

	// Pushed is the expected number of pushed steps (rewritten).
	Pushed *int `yaml:"pushed,omitempty"`

	// Reason is a substring of the unchanged reason (unchanged).
	Reason string `yaml:"reason,omitempty"`

	// Columns are the expected output columns (output_columns).
	Columns []string `yaml:"columns,omitempty"`

	// Count is the expected number of rows (row_count).
	Count *int `yaml:"count,omitempty"`

	// Row holds expected values; extra columns are ignored (rows_contain).
	Row map[string]any `yaml:"row,omitempty"`

	// Signal and Value name a published signal and its value (signal).
	Signal string `yaml:"signal,omitempty"`
	Value  any    `yaml:"value,omitempty"`

	// Code is the expected error code (rewrite_error).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertRewritten     = "rewritten"
	AssertUnchanged     = "unchanged"
	AssertOutputColumns = "output_columns"
	AssertRowCount      = "row_count"
	AssertRowsContain   = "rows_contain"
	AssertSignal        = "signal"
	AssertRewriteError  = "rewrite_error"
)

// LoadScenario reads and parses a scenario YAML file. Spec and table paths
// are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) {
		scenario.Spec = filepath.Join(base, scenario.Spec)
	}
	for i, tbl := range scenario.Tables {
		if tbl.File != "" && !filepath.IsAbs(tbl.File) {
			scenario.Tables[i].File = filepath.Join(base, tbl.File)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
		return fmt.Errorf("spec file not found: %s", s.Spec)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, tbl := range s.Tables {
		hasRecords := !tbl.Records.IsZero()
		switch {
		case tbl.File == "" && !hasRecords:
			return fmt.Errorf("tables[%d]: file or records is required", i)
		case tbl.File != "" && hasRecords:
			return fmt.Errorf("tables[%d]: file and records are mutually exclusive", i)
		case tbl.File == "" && tbl.Name == "":
			return fmt.Errorf("tables[%d]: name is required for inline records", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needsSource := func() error {
		if a.Source == "" {
			return fmt.Errorf("assertions[%d]: source is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertRewritten, AssertUnchanged:
		return needsSource()
	case AssertOutputColumns:
		if a.Columns == nil {
			return fmt.Errorf("assertions[%d]: columns is required for output_columns", index)
		}
		return needsSource()
	case AssertRowCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
		return needsSource()
	case AssertRowsContain:
		if len(a.Row) == 0 {
			return fmt.Errorf("assertions[%d]: row is required for rows_contain", index)
		}
		return needsSource()
	case AssertSignal:
		if a.Signal == "" {
			return fmt.Errorf("assertions[%d]: signal is required for signal", index)
		}
		return needsSource()
	case AssertRewriteError:
		switch pushdown.ErrorCode(a.Code) {
		case pushdown.ErrCodeConfiguration, pushdown.ErrCodeReference, pushdown.ErrCodeUnsupportedOperation:
			return nil
		}
		return fmt.Errorf("assertions[%d]: unknown error code %q", index, a.Code)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
