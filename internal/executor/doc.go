// Package executor runs query descriptors against a database.
//
// An Executor wraps one database connection (sqlite or postgres) and returns
// rows as plain Go values. A Registry holds the named connections a caller
// owns; there is no package-level pool.
//
// Runner evaluates a descriptor in two phases. Extent queries run first and
// bin boundaries are computed from them, publishing the signals the pushed
// steps produce. The final query then runs with those signals bound:
//
//	reg := executor.NewRegistry()
//	db, _ := executor.OpenSQLite(":memory:")
//	reg.Register("flights", db)
//	res, err := executor.NewRunner(nil).Run(ctx, db, desc, doc.SignalDefaults())
package executor
