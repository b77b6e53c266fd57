// Package transport defines the carrier abstraction the 9P engines speak
// through, plus concrete carriers: a TCP stream transport and an
// in-process pipe for tests. Every carrier delivers exactly one complete
// framed message per Recv, reassembled per the proto framing discipline.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned once a transport has been shut down.
	ErrClosed = errors.New("transport: closed")
)

// Transport is the message-level carrier contract. Send transmits one
// complete framed 9P message; Recv blocks until one complete message has
// been reassembled. Implementations own framing, buffering, and
// connection management.
type Transport interface {
	// Send transmits a single framed message. The context may carry a
	// deadline or cancellation.
	Send(ctx context.Context, msg []byte) error

	// Recv blocks until a complete framed message arrives. After this
	// endpoint's own Close it returns ErrClosed even when messages are
	// still queued; after the peer's close, queued messages drain first.
	Recv(ctx context.Context) ([]byte, error)

	// MTU reports the largest message the carrier can move, or 0 when
	// the carrier imposes no limit of its own.
	MTU() uint32

	// Close shuts the transport down. Blocked Send/Recv calls return
	// ErrClosed.
	Close() error
}
