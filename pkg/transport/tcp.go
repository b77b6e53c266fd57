package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

const (
	defaultReadChunk = 4096
	tcpQueueDepth    = 32
)

// TCPOption configures a TCP transport or listener.
type TCPOption func(*tcpConfig)

type tcpConfig struct {
	log     *zap.Logger
	maxSize uint32
}

// WithLogger sets the logger used by the read loop.
func WithLogger(log *zap.Logger) TCPOption {
	return func(c *tcpConfig) {
		c.log = log
	}
}

// WithMaxMessageSize caps the reassembled message size. Oversized declared
// lengths reset the framing state instead of allocating.
func WithMaxMessageSize(n uint32) TCPOption {
	return func(c *tcpConfig) {
		c.maxSize = n
	}
}

func newTCPConfig(opts []TCPOption) tcpConfig {
	cfg := tcpConfig{
		log:     zap.NewNop(),
		maxSize: proto.MaxMsize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// TCP frames 9P messages over a stream socket. A background read loop
// feeds received bytes through the framing assembler and queues complete
// messages for Recv.
type TCP struct {
	conn net.Conn
	log  *zap.Logger
	max  uint32

	msgs chan []byte

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  chan struct{}
	readErr error
}

// DialTCP connects to a 9P endpoint at addr.
func DialTCP(addr string, opts ...TCPOption) (*TCP, error) {
	cfg := newTCPConfig(opts)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return newTCP(conn, cfg), nil
}

func newTCP(conn net.Conn, cfg tcpConfig) *TCP {
	t := &TCP{
		conn:   conn,
		log:    cfg.log,
		max:    cfg.maxSize,
		msgs:   make(chan []byte, tcpQueueDepth),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// readLoop pulls chunks off the socket and runs them through the
// assembler. Chunk boundaries are wherever the kernel puts them; the
// assembler owns reassembly.
func (t *TCP) readLoop() {
	defer close(t.msgs)

	asm := proto.NewAssembler(t.max)
	buf := make([]byte, defaultReadChunk)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			before := asm.Dropped()
			for _, msg := range asm.Feed(buf[:n]) {
				select {
				case t.msgs <- msg:
				case <-t.closed:
					return
				}
			}
			if asm.Dropped() != before {
				t.log.Warn("discarded corrupt frame accumulation",
					zap.Uint64("total_dropped", asm.Dropped()))
			}
		}
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			return
		}
	}
}

// Send writes one framed message to the socket.
func (t *TCP) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return proto.WriteMessage(t.conn, msg)
}

// Recv returns the next complete reassembled message. This endpoint's
// own Close takes precedence over queued data; a peer's close lets
// queued messages drain before the read error is reported.
func (t *TCP) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case msg, ok := <-t.msgs:
		if !ok {
			return nil, t.recvErr()
		}
		return msg, nil
	default:
	}
	select {
	case msg, ok := <-t.msgs:
		if !ok {
			return nil, t.recvErr()
		}
		return msg, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *TCP) recvErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	return ErrClosed
}

// MTU reports the configured maximum message size.
func (t *TCP) MTU() uint32 { return t.max }

// Close shuts down the socket and unblocks pending calls. The result
// aggregates the socket close failure with any read-loop failure that
// preceded it; a plain peer disconnect is not reported.
func (t *TCP) Close() error {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return nil
	default:
		close(t.closed)
	}
	readErr := t.readErr
	t.mu.Unlock()

	err := t.conn.Close()
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
		err = multierr.Append(err, readErr)
	}
	return err
}

// LocalAddr returns the local socket address.
func (t *TCP) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the peer socket address.
func (t *TCP) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// TCPListener accepts inbound 9P connections, wrapping each in a TCP
// transport.
type TCPListener struct {
	ln  net.Listener
	cfg tcpConfig
	log *zap.Logger
}

// ListenTCP binds a listener to addr. The listening socket is opened with
// address reuse so restarts do not wait out TIME_WAIT.
func ListenTCP(addr string, opts ...TCPOption) (*TCPListener, error) {
	cfg := newTCPConfig(opts)
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln, cfg: cfg, log: cfg.log}, nil
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (*TCP, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	l.log.Debug("accepted connection",
		zap.String("remote", conn.RemoteAddr().String()))
	return newTCP(conn, l.cfg), nil
}

// Addr returns the bound listener address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops the listener. Accepted transports are unaffected.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}
