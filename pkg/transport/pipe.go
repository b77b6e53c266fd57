package transport

import (
	"context"
	"sync"
)

// pipeQueueDepth bounds buffered messages per direction.
const pipeQueueDepth = 32

// Pipe is an in-process Transport carrying whole messages between two
// endpoints through bounded channels. It exists for engine and
// end-to-end tests that need a real carrier without a socket.
type Pipe struct {
	send chan<- []byte
	recv <-chan []byte

	mu     sync.Mutex
	closed chan struct{}
	peer   *Pipe
}

// NewPipe returns the two connected endpoints of an in-process carrier.
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan []byte, pipeQueueDepth)
	ba := make(chan []byte, pipeQueueDepth)
	a := &Pipe{send: ab, recv: ba, closed: make(chan struct{})}
	b := &Pipe{send: ba, recv: ab, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers one complete message to the peer endpoint. The message is
// copied, so the caller may reuse its buffer.
func (p *Pipe) Send(ctx context.Context, msg []byte) error {
	out := make([]byte, len(msg))
	copy(out, msg)
	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.send <- out:
		return nil
	}
}

// Recv blocks until the peer sends a message or the pipe closes. This
// endpoint's own Close takes precedence over queued data; a peer's
// close lets queued messages drain first.
func (p *Pipe) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-p.peer.closed:
		// Drain anything already queued before reporting closure.
		select {
		case msg := <-p.recv:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MTU reports no carrier limit.
func (p *Pipe) MTU() uint32 { return 0 }

// Close shuts down this endpoint. The peer's blocked calls return
// ErrClosed.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return nil
}
