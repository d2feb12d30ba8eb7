// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SocketWrite caps one websocket frame write to a client.
const SocketWrite = 10 * time.Second

// SocketPong is how long a client may stay silent before its connection is
// considered dead. Pings go out at a fraction of this interval.
const SocketPong = 60 * time.Second
