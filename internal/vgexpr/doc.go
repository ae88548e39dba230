// Package vgexpr parses the subset of the Vega expression language that can
// appear in pushdown candidates: filter predicates and signal expressions.
//
// The parser produces a small sealed AST. It does not evaluate anything; the
// pushdown package inspects the tree to decide whether a transform can run
// remotely and translates it into relational predicates.
//
// Supported syntax:
//
//	literals      1.5  "text"  'text'  true  false  null
//	datum access  datum.DISTANCE  datum["ARR DELAY"]
//	signals       maxbins  bins.start  extent[0]
//	unary         !x  -x  +x
//	binary        * / %  + -  < <= > >=  == != === !==  &&  ||
//	conditional   test ? a : b
//	calls         isValid(x)  abs(x)  floor(x) ...
//	arrays        [a, b]
//
// Regular expressions, object literals and assignment are rejected with a
// *SyntaxError.
package vgexpr
