// Package vgspec models a Vega visualization document as far as query
// pushdown needs it.
//
// Only the "data" section is typed: each data source has a name, an ordered
// transform pipeline, and its remaining members kept verbatim. Every other
// top-level member (signals, marks, scales, axes, config, ...) is carried as
// opaque JSON so that a rewrite can hand the document back to the renderer
// without losing anything.
//
// Numbers are decoded as json.Number and written back unchanged, so a
// parse/write round trip does not perturb numeric text.
//
// Values of this package are treated as immutable. Functions that derive a new
// document (Clone, the pushdown rewriter) never share mutable maps or slices
// with their input.
package vgspec
