package harness

// Outcome is what happened to one data source.
type Outcome struct {
	Source    string `json:"source"`
	Rewritten bool   `json:"rewritten"`
	Pushed    int    `json:"pushed,omitempty"`
	Residual  int    `json:"residual,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Set for rewritten sources.
	Table   string           `json:"table,omitempty"`
	Columns []string         `json:"columns,omitempty"`
	SQL     string           `json:"sql,omitempty"`
	Signals map[string]any   `json:"signals,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion holds.
	Pass bool `json:"pass"`

	// Sources holds one outcome per data source, in document order.
	// Empty when the rewrite failed.
	Sources []Outcome `json:"sources"`

	// RewriteError is the error code of a failed rewrite.
	RewriteError string `json:"rewrite_error,omitempty"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Sources: []Outcome{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Source returns the outcome of the named data source.
func (r *Result) Source(name string) (*Outcome, bool) {
	for i := range r.Sources {
		if r.Sources[i].Source == name {
			return &r.Sources[i], true
		}
	}
	return nil, false
}
