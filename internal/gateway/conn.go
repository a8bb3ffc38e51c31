// Package gateway implements the live telemetry core: the single-producer
// connection registry, the producer session state machine that decodes and
// analyses audio frames, and the fan-out of metric updates to dashboard
// consumers.
package gateway

import (
	"context"
	"errors"
)

// Conn abstracts one bidirectional message connection. The server package
// adapts coder/websocket connections to this interface; tests use in-memory
// fakes.
type Conn interface {
	// Read blocks until the next message arrives. binary distinguishes
	// binary frames from text messages.
	Read(ctx context.Context) (data []byte, binary bool, err error)

	// Write sends one message.
	Write(ctx context.Context, data []byte, binary bool) error

	// Ping performs a liveness round trip.
	Ping(ctx context.Context) error

	// Close terminates the connection with a reason visible to the peer.
	// Safe to call more than once.
	Close(reason string) error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// ErrSuperseded is the session outcome when a newer producer connection took
// over the authoritative slot.
var ErrSuperseded = errors.New("gateway: producer superseded by a newer connection")

// ErrHandshakeTimeout is returned when a producer sends nothing within the
// handshake window.
var ErrHandshakeTimeout = errors.New("gateway: producer handshake timed out")

// ErrMalformedThreshold is returned when a producer exceeds the allowed run
// of consecutive undecodable frames.
var ErrMalformedThreshold = errors.New("gateway: too many consecutive malformed frames")
