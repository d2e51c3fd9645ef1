// Package logging builds the process-wide structured logger.
//
// A Logger is a *slog.Logger whose records always carry service and
// version attributes. It is created once in main and passed down; packages
// derive scoped loggers with With("component", ...).
//
//	log := logging.New(cfg.Logging, version)
//	log.With("component", "store").Debug("statement", "sql", text)
//
// When the stdio transport is active main uses NewWithWriter(os.Stderr)
// regardless of logging.output, because stdout carries protocol frames.
//
// Bound parameter values never reach the log. The engine logs SQL text at
// debug level together with a parameter count.
package logging
