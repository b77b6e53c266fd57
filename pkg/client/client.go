// Package client implements the 9P2000 session engine: typed blocking
// calls multiplexed over one carrier connection, correlated by tag. Any
// number of goroutines may call concurrently; each blocks on its own
// tag's completion channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jrsharp/9p4z-sub000/pkg/ninebuf"
	"github.com/jrsharp/9p4z-sub000/pkg/pool"
	"github.com/jrsharp/9p4z-sub000/pkg/proto"
	"github.com/jrsharp/9p4z-sub000/pkg/transport"
)

// DefaultTimeout bounds each call when no timeout option is given.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when a response does not arrive within the
	// engine's timeout. The tag is freed eagerly; a late response is
	// discarded as stale.
	ErrTimeout = errors.New("client: request timed out")

	// ErrClosed is returned once the engine has shut down.
	ErrClosed = errors.New("client: closed")

	// ErrMismatch is returned when a response arrives with the right tag
	// but the wrong type for its request.
	ErrMismatch = errors.New("client: response type mismatch")

	// ErrVersionUnsupported is returned when the server escapes version
	// negotiation with "unknown".
	ErrVersionUnsupported = errors.New("client: server does not support 9P2000")
)

// ProtoError is a server-side failure carried by an Rerror response.
type ProtoError struct {
	Ename string
}

func (e *ProtoError) Error() string { return "server error: " + e.Ename }

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTimeout sets the per-call timeout for the whole engine.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMsize sets the message size proposed by Version.
func WithMsize(n uint32) Option {
	return func(c *Client) {
		if n > 0 {
			c.msize = n
		}
	}
}

// Client is one session engine over one carrier connection.
type Client struct {
	tr      transport.Transport
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	tags    *pool.TagTable
	pending map[uint16]chan []byte
	fids    *pool.FidTable[proto.Qid]
	msize   uint32
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a session engine over tr. The caller should follow with
// Version before anything else.
func New(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:      tr,
		log:     zap.NewNop(),
		timeout: DefaultTimeout,
		tags:    pool.NewTagTable(0),
		pending: make(map[uint16]chan []byte),
		fids:    pool.NewFidTable[proto.Qid](0),
		msize:   proto.DefaultMsize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if mtu := tr.MTU(); mtu > 0 && mtu < c.msize {
		c.msize = mtu
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.recvLoop(ctx)
	return c
}

// Close shuts the engine down. Every blocked call returns ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.tr.Close()
	<-c.done
	return err
}

// recvLoop delivers each response to exactly the waiter holding its tag.
// Responses for tags no longer in use are stale (the call timed out or
// was flushed) and are discarded without touching any other waiter.
func (c *Client) recvLoop(ctx context.Context) {
	defer close(c.done)
	for {
		msg, err := c.tr.Recv(ctx)
		if err != nil {
			c.failAll(err)
			return
		}
		h, err := proto.ParseHeader(msg)
		if err != nil {
			c.log.Debug("discarding unparseable response", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[h.Tag]
		if ok {
			delete(c.pending, h.Tag)
		}
		c.mu.Unlock()
		if !ok {
			c.log.Debug("discarding stale response",
				zap.String("type", proto.TypeName(h.Type)), zap.Uint16("tag", h.Tag))
			continue
		}
		ch <- msg
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for tag, ch := range c.pending {
		close(ch)
		delete(c.pending, tag)
	}
}

// register allocates a tag and its one-shot completion channel. The
// version handshake uses the NoTag sentinel instead of an allocated tag.
func (c *Client) register(noTag bool) (uint16, chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClosed
	}
	tag := proto.NoTag
	if !noTag {
		var err error
		if tag, err = c.tags.Alloc(); err != nil {
			return 0, nil, err
		}
	}
	ch := make(chan []byte, 1)
	c.pending[tag] = ch
	return tag, ch, nil
}

// release frees the tag and drops any still-registered completion
// channel, so a response arriving later is discarded as stale.
func (c *Client) release(tag uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, tag)
	if tag != proto.NoTag {
		c.tags.Free(tag)
	}
}

// rpc sends one request and blocks until its response, the engine
// timeout, or shutdown. Carrier I/O happens outside the engine lock.
func (c *Client) rpc(req proto.Message, wantType uint8) (proto.Message, error) {
	_, isVersion := req.(*proto.Tversion)
	tag, ch, err := c.register(isVersion)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	err = c.tr.Send(sendCtx, proto.Marshal(tag, req))
	cancel()
	if err != nil {
		c.release(tag)
		return nil, fmt.Errorf("client: send %s: %w", proto.TypeName(req.MsgType()), err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		c.release(tag)
		if !ok {
			return nil, ErrClosed
		}
		return c.decodeReply(msg, wantType)
	case <-timer.C:
		c.release(tag)
		c.flushStale(tag)
		return nil, ErrTimeout
	case <-c.done:
		c.release(tag)
		return nil, ErrClosed
	}
}

// flushStale tells the server to forget a timed-out tag. The Rflush
// itself is not awaited; it lands on an already-freed tag and is
// discarded by the receive loop.
func (c *Client) flushStale(oldtag uint16) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tag, err := c.tags.Alloc()
	c.mu.Unlock()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.tr.Send(ctx, proto.Marshal(tag, &proto.Tflush{Oldtag: oldtag})); err != nil {
		c.log.Debug("flush after timeout failed", zap.Error(err))
	}
	c.mu.Lock()
	c.tags.Free(tag)
	c.mu.Unlock()
}

func (c *Client) decodeReply(msg []byte, wantType uint8) (proto.Message, error) {
	h, m, err := proto.Unmarshal(msg)
	if err != nil {
		return nil, err
	}
	if rerr, ok := m.(*proto.Rerror); ok {
		return nil, &ProtoError{Ename: rerr.Ename}
	}
	if h.Type != wantType {
		return nil, fmt.Errorf("%w: got %s, want %s",
			ErrMismatch, proto.TypeName(h.Type), proto.TypeName(wantType))
	}
	return m, nil
}

// maxPayload is the largest read/write payload the negotiated msize
// admits.
func (c *Client) maxPayload() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msize <= proto.IOHeaderSize {
		return 0
	}
	return c.msize - proto.IOHeaderSize
}

// Version negotiates the protocol and message size. It must be the first
// call on a session; renegotiating invalidates every fid held here.
func (c *Client) Version(msize uint32) (uint32, error) {
	if msize == 0 {
		msize = proto.DefaultMsize
	}
	m, err := c.rpc(&proto.Tversion{Msize: msize, Version: proto.Version}, proto.MsgRversion)
	if err != nil {
		return 0, err
	}
	rv := m.(*proto.Rversion)
	if rv.Version != proto.Version {
		return 0, ErrVersionUnsupported
	}
	c.mu.Lock()
	c.msize = rv.Msize
	c.fids.Clear()
	c.mu.Unlock()
	return rv.Msize, nil
}

// Auth starts an authentication handshake for uname on tree aname,
// returning the afid holding the challenge.
func (c *Client) Auth(uname, aname string) (uint32, proto.Qid, error) {
	c.mu.Lock()
	afid, err := c.fids.Alloc(proto.Qid{})
	c.mu.Unlock()
	if err != nil {
		return 0, proto.Qid{}, err
	}
	m, err := c.rpc(&proto.Tauth{Afid: afid, Uname: uname, Aname: aname}, proto.MsgRauth)
	if err != nil {
		c.freeFid(afid)
		return 0, proto.Qid{}, err
	}
	ra := m.(*proto.Rauth)
	c.mu.Lock()
	c.fids.Update(afid, ra.Aqid)
	c.mu.Unlock()
	return afid, ra.Aqid, nil
}

// Attach binds a new fid to the root of tree aname as uname. afid is a
// completed auth-fid, or NoFid when the server requires none.
func (c *Client) Attach(afid uint32, uname, aname string) (uint32, proto.Qid, error) {
	c.mu.Lock()
	fid, err := c.fids.Alloc(proto.Qid{})
	c.mu.Unlock()
	if err != nil {
		return 0, proto.Qid{}, err
	}
	m, err := c.rpc(&proto.Tattach{Fid: fid, Afid: afid, Uname: uname, Aname: aname}, proto.MsgRattach)
	if err != nil {
		c.freeFid(fid)
		return 0, proto.Qid{}, err
	}
	ra := m.(*proto.Rattach)
	c.mu.Lock()
	c.fids.Update(fid, ra.Qid)
	c.mu.Unlock()
	return fid, ra.Qid, nil
}

// Walk resolves names from fid onto a fresh fid. With no names the
// source fid is cloned.
func (c *Client) Walk(fid uint32, names ...string) (uint32, []proto.Qid, error) {
	if len(names) > proto.MaxWelem {
		return 0, nil, proto.ErrTooManyNames
	}
	c.mu.Lock()
	newfid, err := c.fids.Alloc(proto.Qid{})
	c.mu.Unlock()
	if err != nil {
		return 0, nil, err
	}
	m, err := c.rpc(&proto.Twalk{Fid: fid, Newfid: newfid, Wnames: names}, proto.MsgRwalk)
	if err != nil {
		c.freeFid(newfid)
		return 0, nil, err
	}
	rw := m.(*proto.Rwalk)
	qid, _ := c.lookupFid(fid)
	if n := len(rw.Wqids); n > 0 {
		qid = rw.Wqids[n-1]
	}
	c.mu.Lock()
	c.fids.Update(newfid, qid)
	c.mu.Unlock()
	return newfid, rw.Wqids, nil
}

// Open prepares fid for I/O.
func (c *Client) Open(fid uint32, mode uint8) (proto.Qid, uint32, error) {
	m, err := c.rpc(&proto.Topen{Fid: fid, Mode: mode}, proto.MsgRopen)
	if err != nil {
		return proto.Qid{}, 0, err
	}
	ro := m.(*proto.Ropen)
	return ro.Qid, ro.Iounit, nil
}

// Create makes and opens name under the directory bound to fid; the fid
// moves to the new resource.
func (c *Client) Create(fid uint32, name string, perm uint32, mode uint8) (proto.Qid, uint32, error) {
	m, err := c.rpc(&proto.Tcreate{Fid: fid, Name: name, Perm: perm, Mode: mode}, proto.MsgRcreate)
	if err != nil {
		return proto.Qid{}, 0, err
	}
	rc := m.(*proto.Rcreate)
	c.mu.Lock()
	c.fids.Update(fid, rc.Qid)
	c.mu.Unlock()
	return rc.Qid, rc.Iounit, nil
}

// Read returns up to count bytes at offset. Zero bytes means end of
// file. count is clamped to the negotiated msize.
func (c *Client) Read(fid uint32, offset uint64, count uint32) ([]byte, error) {
	if limit := c.maxPayload(); count > limit {
		count = limit
	}
	m, err := c.rpc(&proto.Tread{Fid: fid, Offset: offset, Count: count}, proto.MsgRread)
	if err != nil {
		return nil, err
	}
	return m.(*proto.Rread).Data, nil
}

// Write sends data at offset, returning how many bytes the server
// accepted. Payloads beyond the negotiated msize are rejected locally.
func (c *Client) Write(fid uint32, offset uint64, data []byte) (uint32, error) {
	if limit := c.maxPayload(); uint32(len(data)) > limit {
		return 0, fmt.Errorf("client: write of %d bytes exceeds negotiated payload %d",
			len(data), limit)
	}
	m, err := c.rpc(&proto.Twrite{Fid: fid, Offset: offset, Data: data}, proto.MsgRwrite)
	if err != nil {
		return 0, err
	}
	return m.(*proto.Rwrite).Count, nil
}

// Stat fetches and decodes the metadata record for fid.
func (c *Client) Stat(fid uint32) (proto.Stat, error) {
	m, err := c.rpc(&proto.Tstat{Fid: fid}, proto.MsgRstat)
	if err != nil {
		return proto.Stat{}, err
	}
	return proto.DecodeStat(ninebuf.NewReader(m.(*proto.Rstat).Stat))
}

// Remove deletes the resource bound to fid. Success implies clunk; on
// failure the fid stays usable.
func (c *Client) Remove(fid uint32) error {
	if _, err := c.rpc(&proto.Tremove{Fid: fid}, proto.MsgRremove); err != nil {
		return err
	}
	c.freeFid(fid)
	return nil
}

// Clunk releases fid.
func (c *Client) Clunk(fid uint32) error {
	if _, err := c.rpc(&proto.Tclunk{Fid: fid}, proto.MsgRclunk); err != nil {
		return err
	}
	c.freeFid(fid)
	return nil
}

// Flush cancels an outstanding tag and waits for the acknowledgment.
func (c *Client) Flush(oldtag uint16) error {
	_, err := c.rpc(&proto.Tflush{Oldtag: oldtag}, proto.MsgRflush)
	return err
}

func (c *Client) freeFid(fid uint32) {
	c.mu.Lock()
	c.fids.Free(fid)
	c.mu.Unlock()
}

func (c *Client) lookupFid(fid uint32) (proto.Qid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fids.Lookup(fid)
}
