// Package queryir defines the backend-agnostic query descriptor produced when
// a transform prefix is pushed down to a remote database.
//
// A Descriptor names a source table and an ordered list of relational
// operations that reproduce the pushed transforms:
//
//	[table] → Filter → Extent → Bin → Aggregate → [output columns]
//
// Each operation consumes the rows produced by the previous one. Executor
// adapters (see package querysql) turn a descriptor into a concrete query
// language; the descriptor itself never contains SQL.
//
// SEALED INTERFACES:
//
// Operation and Scalar are sealed with marker methods. Only types in this
// package implement them, so adapters can switch exhaustively:
//
//	switch op := op.(type) {
//	case Filter:
//	case Extent:
//	case Bin:
//	case Aggregate:
//	}
//
// SIGNALS:
//
// Parameters may reference named signals instead of literal values. A
// descriptor carries the reference, never a resolved value, so one
// descriptor stays valid while the bound signal changes. Signals computed by
// the query itself (an extent or bin "signal" name) are listed in
// Descriptor.Signals and are published back to the client by the executor.
//
// ENCODING:
//
// Encode converts a descriptor to plain JSON values (maps, slices, strings,
// float64, bool, nil) so it can be embedded in a document. Decode is the
// inverse and accepts json.Number as produced by decoders using UseNumber.
package queryir
