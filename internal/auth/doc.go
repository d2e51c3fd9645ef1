// Package auth provides bearer-token authentication for the sqlitetool API.
//
// Tokens are HS256-signed JWTs carrying a subject and a role. Roles map to
// a fixed permission set:
//   - reader: list tables, describe schema, run SELECT statements
//   - writer: everything a reader can do plus insert, update, delete and
//     non-SELECT raw statements
//   - admin: everything a writer can do plus schema changes (add column)
//
// Validation is by signature and expiry only; there is no token store.
package auth
