package server

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jrsharp/9p4z-sub000/pkg/pool"
	"github.com/jrsharp/9p4z-sub000/pkg/proto"
	"github.com/jrsharp/9p4z-sub000/pkg/transport"
)

// Ename strings sent in Rerror responses.
const (
	enameUnknownFid   = "unknown fid"
	enameFidInUse     = "fid already in use"
	enameFidTableFull = "fid table full"
	enameNotSupported = "operation not supported"
	enameNoAuth       = "authentication not required"
	enameAuthRequired = "authentication required"
	enameAuthFailed   = "authentication failed"
	enameAuthExpired  = "authentication expired"
	enameNotRead      = "challenge not read"
	enameWalkAuthFid  = "cannot walk auth fid"
	enameWalkOpenFid  = "cannot walk open fid"
	enameAuthFidIO    = "invalid operation on auth fid"
	enameAlreadyOpen  = "fid already open"
	enameNotOpen      = "fid not open for I/O"
	enameNotReadable  = "fid not open for reading"
	enameNotWritable  = "fid not open for writing"
	enameBadMessage   = "malformed message"
)

// fidState is the per-fid record: either a bound resource node or an
// authentication handshake, never both.
type fidState struct {
	node   Node
	uname  string
	opened bool
	mode   uint8
	iounit uint32
	auth   *authState
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMsize sets the largest message size the session will negotiate.
func WithMsize(n uint32) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithAuthPolicy enables the authentication handshake.
func WithAuthPolicy(p *AuthPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithFidCapacity bounds live fids on the session.
func WithFidCapacity(n int) Option {
	return func(s *Session) { s.fidCap = n }
}

// Session is one dispatch engine instance bound to one carrier
// connection. Sessions are not shared; parallel connections each get
// their own, and only the backend is shared between them.
type Session struct {
	fs      FileSystem
	tr      transport.Transport
	log     *zap.Logger
	policy  *AuthPolicy
	metrics *Metrics

	maxSize uint32
	fidCap  int

	msize    uint32
	fids     *pool.FidTable[*fidState]
	authPath uint64

	now func() time.Time
}

// NewSession builds a dispatch engine over tr, serving fs.
func NewSession(fs FileSystem, tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		fs:      fs,
		tr:      tr,
		log:     zap.NewNop(),
		maxSize: proto.DefaultMsize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if mtu := tr.MTU(); mtu > 0 && mtu < s.maxSize {
		s.maxSize = mtu
	}
	s.msize = s.maxSize
	s.fids = pool.NewFidTable[*fidState](s.fidCap)
	return s
}

// Serve runs the dispatch loop until the carrier closes, the context is
// canceled, or a send fails. A clean peer disconnect returns nil.
func (s *Session) Serve(ctx context.Context) error {
	s.metrics.sessionStart()
	defer s.metrics.sessionEnd()

	for {
		msg, err := s.tr.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		reply, tag, ok := s.dispatch(msg)
		if !ok {
			continue
		}
		if err := s.tr.Send(ctx, proto.Marshal(tag, reply)); err != nil {
			return err
		}
	}
}

// dispatch processes one framed message and returns the reply. ok is
// false when the message is dropped without a response; a bad request
// earns an Rerror, never a closed carrier.
func (s *Session) dispatch(msg []byte) (reply proto.Message, tag uint16, ok bool) {
	h, err := proto.ParseHeader(msg)
	if err != nil {
		// No trustworthy tag to answer on.
		s.log.Debug("dropping unparseable message", zap.Error(err))
		return nil, 0, false
	}
	_, m, err := proto.Unmarshal(msg)
	if err != nil {
		if errors.Is(err, proto.ErrUnknownType) {
			return s.rerror(h, enameNotSupported), h.Tag, true
		}
		s.log.Debug("dropping malformed message",
			zap.String("type", proto.TypeName(h.Type)), zap.Error(err))
		return nil, 0, false
	}

	s.metrics.request(proto.TypeName(h.Type))
	s.log.Debug("dispatch",
		zap.String("type", proto.TypeName(h.Type)), zap.Uint16("tag", h.Tag))

	switch t := m.(type) {
	case *proto.Tversion:
		reply = s.handleVersion(t)
	case *proto.Tauth:
		reply = s.handleAuth(h, t)
	case *proto.Tattach:
		reply = s.handleAttach(h, t)
	case *proto.Twalk:
		reply = s.handleWalk(h, t)
	case *proto.Topen:
		reply = s.handleOpen(h, t)
	case *proto.Tcreate:
		reply = s.handleCreate(h, t)
	case *proto.Tread:
		reply = s.handleRead(h, t)
	case *proto.Twrite:
		reply = s.handleWrite(h, t)
	case *proto.Tclunk:
		reply = s.handleClunk(h, t)
	case *proto.Tremove:
		reply = s.handleRemove(h, t)
	case *proto.Tstat:
		reply = s.handleStat(h, t)
	case *proto.Tflush:
		// Dispatch is synchronous, so there is never in-flight work to
		// cancel; the protocol-level record is simply acknowledged.
		reply = &proto.Rflush{}
	default:
		reply = s.rerror(h, enameNotSupported)
	}
	return reply, h.Tag, true
}

func (s *Session) rerror(h proto.Header, ename string) *proto.Rerror {
	s.metrics.protoError()
	s.log.Debug("protocol error",
		zap.String("type", proto.TypeName(h.Type)),
		zap.Uint16("tag", h.Tag),
		zap.String("ename", ename))
	return &proto.Rerror{Ename: ename}
}

func (s *Session) backendError(h proto.Header, err error) *proto.Rerror {
	if errors.Is(err, ErrNotSupported) {
		return s.rerror(h, enameNotSupported)
	}
	return s.rerror(h, err.Error())
}

// maxPayload is the largest Rread/Twrite payload the negotiated msize
// admits.
func (s *Session) maxPayload() uint32 {
	if s.msize <= proto.IOHeaderSize {
		return 0
	}
	return s.msize - proto.IOHeaderSize
}

// handleVersion renegotiates the session. Any prior attachment is void:
// every fid, auth handshakes included, is invalidated.
func (s *Session) handleVersion(m *proto.Tversion) proto.Message {
	s.fids.Clear()

	msize := s.maxSize
	if m.Msize < msize {
		msize = m.Msize
	}
	if m.Version != proto.Version {
		// Protocol-defined escape, not a failure.
		return &proto.Rversion{Msize: msize, Version: proto.VersionUnknown}
	}
	s.msize = msize
	return &proto.Rversion{Msize: msize, Version: proto.Version}
}

func (s *Session) handleAuth(h proto.Header, m *proto.Tauth) proto.Message {
	if s.policy == nil {
		return s.rerror(h, enameNoAuth)
	}
	auth, err := newAuthState(m.Uname, m.Aname, s.now())
	if err != nil {
		return s.rerror(h, enameAuthFailed)
	}
	if err := s.fids.Insert(m.Afid, &fidState{uname: m.Uname, auth: auth}); err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			return s.rerror(h, enameFidTableFull)
		}
		return s.rerror(h, enameFidInUse)
	}
	s.authPath++
	return &proto.Rauth{Aqid: proto.Qid{Type: proto.QTAuth, Path: s.authPath}}
}

func (s *Session) handleAttach(h proto.Header, m *proto.Tattach) proto.Message {
	if s.policy != nil {
		if m.Afid == proto.NoFid {
			return s.rerror(h, enameAuthRequired)
		}
		st, ok := s.fids.Lookup(m.Afid)
		if !ok || st.auth == nil || !st.auth.verified || st.auth.uname != m.Uname {
			return s.rerror(h, enameAuthFailed)
		}
	}
	root, err := s.fs.Root()
	if err != nil {
		return s.backendError(h, err)
	}
	if err := s.fids.Insert(m.Fid, &fidState{node: root, uname: m.Uname}); err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			return s.rerror(h, enameFidTableFull)
		}
		return s.rerror(h, enameFidInUse)
	}
	return &proto.Rattach{Qid: root.Qid()}
}

// handleWalk resolves elements one at a time. The walk is all or
// nothing: the first unresolvable element fails the whole request, the
// source fid is untouched, and no new fid is allocated. Zero elements
// clone the source. The source must not be open for I/O; clients clone
// before opening.
func (s *Session) handleWalk(h proto.Header, m *proto.Twalk) proto.Message {
	src, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if src.auth != nil {
		return s.rerror(h, enameWalkAuthFid)
	}
	if src.opened {
		return s.rerror(h, enameWalkOpenFid)
	}
	if m.Newfid != m.Fid {
		if _, inUse := s.fids.Lookup(m.Newfid); inUse {
			return s.rerror(h, enameFidInUse)
		}
	}

	node := src.node
	qids := make([]proto.Qid, 0, len(m.Wnames))
	for _, name := range m.Wnames {
		next, err := s.fs.Walk(node, name)
		if err != nil {
			return s.backendError(h, err)
		}
		node = next
		qids = append(qids, node.Qid())
	}

	st := &fidState{node: node, uname: src.uname}
	if m.Newfid == m.Fid {
		s.fids.Update(m.Fid, st)
	} else if err := s.fids.Insert(m.Newfid, st); err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			return s.rerror(h, enameFidTableFull)
		}
		return s.rerror(h, enameFidInUse)
	}
	return &proto.Rwalk{Wqids: qids}
}

func (s *Session) handleOpen(h proto.Header, m *proto.Topen) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if st.auth != nil {
		return s.rerror(h, enameAuthFidIO)
	}
	if st.opened {
		return s.rerror(h, enameAlreadyOpen)
	}
	if opener, ok := s.fs.(Opener); ok {
		if err := opener.Open(st.node, m.Mode); err != nil {
			return s.backendError(h, err)
		}
	}
	st.opened = true
	st.mode = m.Mode
	st.iounit = s.maxPayload()
	return &proto.Ropen{Qid: st.node.Qid(), Iounit: st.iounit}
}

func (s *Session) handleCreate(h proto.Header, m *proto.Tcreate) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if st.auth != nil {
		return s.rerror(h, enameAuthFidIO)
	}
	creator, ok := s.fs.(Creator)
	if !ok {
		return s.rerror(h, enameNotSupported)
	}
	node, err := creator.Create(st.node, m.Name, m.Perm, m.Mode, st.uname)
	if err != nil {
		return s.backendError(h, err)
	}
	// The fid moves from the directory to the newly created, opened node.
	st.node = node
	st.opened = true
	st.mode = m.Mode
	st.iounit = s.maxPayload()
	return &proto.Rcreate{Qid: node.Qid(), Iounit: st.iounit}
}

func (s *Session) handleRead(h proto.Header, m *proto.Tread) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}

	max := m.Count
	if limit := s.maxPayload(); max > limit {
		max = limit
	}

	if st.auth != nil {
		if st.auth.expired(s.now(), s.policy.ttl()) {
			return s.rerror(h, enameAuthExpired)
		}
		data := authReadSlice(st.auth.challenge, m.Offset, max)
		st.auth.delivered = true
		return &proto.Rread{Data: data}
	}

	if !st.opened {
		return s.rerror(h, enameNotOpen)
	}
	if st.mode&0x03 == proto.OWRITE {
		return s.rerror(h, enameNotReadable)
	}
	reader, ok := s.fs.(Reader)
	if !ok {
		return s.rerror(h, enameNotSupported)
	}
	data, err := reader.Read(st.node, m.Offset, max)
	if err != nil {
		return s.backendError(h, err)
	}
	s.metrics.readBytes(len(data))
	return &proto.Rread{Data: data}
}

// authReadSlice serves a byte range of the challenge; past-the-end reads
// return zero bytes (EOF), matching file read semantics.
func authReadSlice(challenge []byte, offset uint64, max uint32) []byte {
	if offset >= uint64(len(challenge)) {
		return nil
	}
	data := challenge[offset:]
	if uint32(len(data)) > max {
		data = data[:max]
	}
	return data
}

func (s *Session) handleWrite(h proto.Header, m *proto.Twrite) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}

	if st.auth != nil {
		if !st.auth.delivered {
			return s.rerror(h, enameNotRead)
		}
		if st.auth.expired(s.now(), s.policy.ttl()) {
			return s.rerror(h, enameAuthExpired)
		}
		if err := s.policy.Verify(st.auth.uname, m.Data, st.auth.challenge); err != nil {
			// A failed proof leaves the handshake unauthenticated.
			s.log.Info("proof rejected",
				zap.String("uname", st.auth.uname), zap.Error(err))
			return s.rerror(h, enameAuthFailed)
		}
		st.auth.verified = true
		return &proto.Rwrite{Count: uint32(len(m.Data))}
	}

	if !st.opened {
		return s.rerror(h, enameNotOpen)
	}
	if mode := st.mode & 0x03; mode != proto.OWRITE && mode != proto.ORDWR {
		return s.rerror(h, enameNotWritable)
	}
	writer, ok := s.fs.(Writer)
	if !ok {
		return s.rerror(h, enameNotSupported)
	}
	count, err := writer.Write(st.node, m.Offset, m.Data, st.uname)
	if err != nil {
		return s.backendError(h, err)
	}
	s.metrics.writeBytes(int(count))
	return &proto.Rwrite{Count: count}
}

// handleClunk frees the fid no matter what the release hook says.
func (s *Session) handleClunk(h proto.Header, m *proto.Tclunk) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if st.node != nil {
		if clunker, ok := s.fs.(Clunker); ok {
			if err := clunker.Clunk(st.node); err != nil {
				s.log.Debug("clunk hook failed", zap.Uint32("fid", m.Fid), zap.Error(err))
			}
		}
	}
	s.fids.Free(m.Fid)
	return &proto.Rclunk{}
}

// handleRemove implies clunk on success only; a failed remove leaves the
// fid bound and usable.
func (s *Session) handleRemove(h proto.Header, m *proto.Tremove) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if st.auth != nil {
		return s.rerror(h, enameAuthFidIO)
	}
	remover, ok := s.fs.(Remover)
	if !ok {
		return s.rerror(h, enameNotSupported)
	}
	if err := remover.Remove(st.node); err != nil {
		return s.backendError(h, err)
	}
	s.fids.Free(m.Fid)
	return &proto.Rremove{}
}

func (s *Session) handleStat(h proto.Header, m *proto.Tstat) proto.Message {
	st, ok := s.fids.Lookup(m.Fid)
	if !ok {
		return s.rerror(h, enameUnknownFid)
	}
	if st.auth != nil {
		return s.rerror(h, enameAuthFidIO)
	}
	stater, ok := s.fs.(Stater)
	if !ok {
		return s.rerror(h, enameNotSupported)
	}
	raw, err := stater.Stat(st.node)
	if err != nil {
		return s.backendError(h, err)
	}
	return &proto.Rstat{Stat: raw}
}
