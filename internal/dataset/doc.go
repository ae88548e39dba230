// Package dataset loads sample data into a database so specs can be
// rewritten against it.
//
// Column types are inferred from the first non-null value of each column:
// strings become text, numbers become double precision and booleans become
// boolean. Anything else, including a column with no values at all, is
// reported as Unsupported instead of guessed.
package dataset
