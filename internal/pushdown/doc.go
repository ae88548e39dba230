// Package pushdown rewrites a visualization document so that eligible
// transforms run in a remote database instead of the client.
//
// For each data source the rewrite:
//
//  1. resolves the source's remote binding (a "relation" member, a leading
//     executor step naming a table, or an upstream source whose pipeline
//     runs entirely remotely),
//  2. classifies the pipeline with a PipelineScan and splits off the
//     longest pushable prefix (Split),
//  3. translates the prefix into a queryir.Descriptor (Builder.Build),
//  4. replaces the prefix with one executor step carrying the encoded
//     descriptor and keeps the residual steps after it (Rewriter).
//
// Only filter, extent, bin and aggregate steps are pushable, and only when
// every parameter is a literal or a signal whose value is known before the
// query runs. Steps are never reordered: the first step that is not pushable
// ends the prefix.
//
// The rewrite is pure. It never modifies its input, and executor steps are
// opaque to the classifier, so rewriting a rewritten document is a no-op.
//
// ERRORS:
//
// A failed rewrite returns a *RewriteError naming the data source and
// wrapping one of ConfigurationError, UnsupportedOperationError or
// ReferenceError. Callers that prefer a partial pushdown exclude the failed
// source and rewrite again; PlanWithFallback does exactly that.
package pushdown
