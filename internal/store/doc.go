// Package store is the statement-construction and execution core of sqlitetool.
//
// It turns structured operations (insert, update, delete, add column) and
// raw SQL into parameterized statements, runs them against one SQLite
// store through a per-call connection, and returns every outcome as an
// Envelope:
//
//	rows | affected | inserted_id | ack | tables | schema | failure
//
// Values are always bound as parameters. Table and column names are the
// only text written into SQL, and only after ValidateIdentifier accepts
// them. Update and delete refuse to run without conditions, and add column
// accepts only the types TEXT, INTEGER, REAL, NUMERIC, BLOB, DATE and
// DATETIME.
//
// Conditions are equality-only and joined with AND. Range, NULL and OR
// predicates are not supported by the structured operations; use Execute
// with raw SQL and parameters for those.
//
// Errors never escape an Engine method. Validation, identifier, store and
// unexpected failures (including panics) are converted to a failure
// envelope carrying an ErrorKind and a message.
package store
