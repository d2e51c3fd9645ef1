// Package mcp serves the store operations as tools over stdio.
//
// The Model Context Protocol framing, handshake and method routing come
// from github.com/mark3labs/mcp-go; this package only registers the tools
// and maps each call onto a command.Request.
//
// Every tool takes an optional db_path naming the store; when omitted the
// configured default store is used. A tool result carries the operation's
// envelope as JSON text and sets isError when the envelope is a failure.
//
// Stdout belongs to the protocol. Nothing else may write to it while
// Serve runs, which is why the process logger is forced to stderr.
package mcp
