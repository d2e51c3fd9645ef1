// Package command is the transport-neutral front door to the store engine.
//
// Every transport (stdio tools, HTTP, WebSocket, MQTT) decodes its input
// into a Request and hands it to a Dispatcher, which resolves the store
// path, serializes the call and returns the engine's Envelope unchanged.
package command
