// Package api implements the HTTP REST API and WebSocket command channel
// for sqlitetool.
//
// This package provides:
//   - REST endpoints for raw queries, row operations and schema inspection
//   - A WebSocket channel that accepts the same commands and broadcasts
//     store changes to subscribers
//   - Optional JWT bearer authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support
//
// # Architecture
//
// Every endpoint decodes its input into a command.Request and hands it to
// the shared command.Dispatcher. Results are written as the engine's
// Envelope JSON, with the HTTP status derived from the failure kind:
//
//	validation -> 400, identifier -> 404 or 409, store -> 409 (constraint) or 500,
//	unexpected -> 500
//
// Transport-level problems (malformed JSON, missing or invalid tokens)
// use the structured Error body instead.
//
// # Store selection
//
// Every data endpoint accepts ?db=<path> to select the store. Without it
// the configured default store is used.
package api
