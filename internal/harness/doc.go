// Package harness runs end-to-end rewrite scenarios.
//
// A scenario names a visualization spec and the tables its remote data
// sources read. The harness loads the tables into a fresh in-memory sqlite
// database, rewrites the spec, runs every produced query and evaluates the
// scenario's assertions against the outcome.
//
// # Scenario Format
//
//	name: flights_histogram
//	description: "Histogram over a remote table"
//	spec: specs/histogram.json
//	tables:
//	  - name: flights
//	    file: data/flights.csv
//	  - name: carriers
//	    records:
//	      - {code: AA, name: American}
//	signals: { maxbins: 10 }
//	assertions:
//	  - type: rewritten
//	    source: table
//	    pushed: 3
//	  - type: output_columns
//	    source: table
//	    columns: [bin0, bin1, count]
//	  - type: rows_contain
//	    source: table
//	    row: { bin0: 0, count: 2 }
//
// # Assertion Types
//
//   - rewritten: the source was rewritten, optionally with a pushed step count
//   - unchanged: the source was left unchanged, optionally for a reason
//   - output_columns: the query projects exactly these columns
//   - row_count: the query returned exactly N rows
//   - rows_contain: some row contains the given values (subset match)
//   - signal: a pushed step published the given value
//   - rewrite_error: the rewrite failed with the given error code
//
// Each run uses a private database, so scenarios are isolated and their
// outcomes can be compared against golden snapshots.
package harness
