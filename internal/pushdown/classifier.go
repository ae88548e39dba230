package pushdown

import (
	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// Classifier decides which transform steps can run remotely.
//
// A signal is remote-resolvable when its value is known before the query
// runs: builtin view signals, top-level signals that are not driven by
// events or other signals, and signals published by steps already pushed
// in the same pipeline. Everything else, including unknown names, is
// client-only.
type Classifier struct {
	static map[string]bool
}

// NewClassifier collects the statically resolvable signals of doc.
func NewClassifier(doc *vgspec.Document) *Classifier {
	c := &Classifier{static: make(map[string]bool)}
	for name := range vgspec.BuiltinSignals {
		c.static[name] = true
	}
	for _, sig := range doc.Signals() {
		if sig.Reactive {
			delete(c.static, sig.Name)
			continue
		}
		c.static[sig.Name] = true
	}
	return c
}

// Static reports whether name is a statically resolvable top-level signal.
func (c *Classifier) Static(name string) bool {
	return c.static[name]
}

// Scan starts a walk over one pipeline. seed lists signals already
// published by steps pushed upstream of the pipeline.
func (c *Classifier) Scan(seed ...string) *PipelineScan {
	s := &PipelineScan{
		classifier: c,
		pushed:     make(map[string]bool),
		client:     make(map[string]bool),
	}
	for _, name := range seed {
		s.pushed[name] = true
	}
	return s
}

// Verdict is the classification of one step.
type Verdict struct {
	Pushable bool

	// Op is the relational translation of a pushable step.
	Op queryir.Operation

	// Reason explains why a step is not pushable.
	Reason string
}

// PipelineScan tracks signal origins while walking a single pipeline.
// It is not safe for concurrent use and must not be shared between
// pipelines.
type PipelineScan struct {
	classifier *Classifier
	pushed     map[string]bool
	client     map[string]bool
}

// Resolvable reports whether a signal's value is known to the remote side at
// this point of the walk.
func (s *PipelineScan) Resolvable(name string) bool {
	if s.client[name] {
		return false
	}
	return s.pushed[name] || s.classifier.static[name]
}

// Classify decides whether t can be pushed and records the signal it
// publishes as remote or client-only accordingly.
func (s *PipelineScan) Classify(t vgspec.Transform) Verdict {
	var v Verdict
	if t.Kind() == vgspec.KindCustom {
		v.Reason = "custom transform " + t.Type + " is opaque"
	} else if op, err := s.translate(t); err != nil {
		v.Reason = err.Error()
	} else {
		v = Verdict{Pushable: true, Op: op}
	}

	if name, ok := t.Params["signal"].(string); ok && name != "" {
		if v.Pushable {
			s.pushed[name] = true
			delete(s.client, name)
		} else {
			s.client[name] = true
		}
	}
	return v
}

// Pushable is Classify reduced to its decision.
func (s *PipelineScan) Pushable(t vgspec.Transform) bool {
	return s.Classify(t).Pushable
}
