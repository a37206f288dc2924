// Package app wires the client together for the CLI.
//
// NewWire opens what works offline: the log backend and the device store.
// Wire.Open unlocks the identity and builds the online client on top of it:
// relay transport, stream router, sync orchestrator, key exchange scheduler
// and metrics.
package app
