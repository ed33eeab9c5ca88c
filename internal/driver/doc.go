// Package driver connects an engine to a byte stream.
//
// Ownership boundary:
// - dialing/listening over TCP, TLS and WebSocket
// - retry/backoff for outbound connections
// - the single-goroutine loop that feeds an engine and drains its output
//
// The engine itself never touches a socket; everything here is plumbing
// around its buffer contract.
package driver
