package proto

import (
	"errors"
	"fmt"

	"github.com/jrsharp/9p4z-sub000/pkg/ninebuf"
)

var (
	// ErrUnknownType is returned by Unmarshal for a type outside the
	// 9P2000 message set (or for Terror, which is illegal on the wire).
	ErrUnknownType = errors.New("proto: unknown message type")

	// ErrSizeMismatch is returned when the header's size field does not
	// equal the actual message length.
	ErrSizeMismatch = errors.New("proto: header size does not match message length")

	// ErrTooManyNames is returned when a Twalk carries more than MaxWelem
	// path elements or an Rwalk more than MaxWelem qids.
	ErrTooManyNames = errors.New("proto: walk element count exceeds maximum")
)

// Message is one typed 9P message payload. The envelope (size, type, tag)
// is handled by Marshal/Unmarshal; Encode and Decode operate on the
// payload bytes that follow it.
type Message interface {
	MsgType() uint8
	Encode(buf *ninebuf.Buffer)
	Decode(r *ninebuf.Reader) error
}

// Marshal frames m into a complete wire message carrying tag. The size
// field is exact by construction.
func Marshal(tag uint16, m Message) []byte {
	body := ninebuf.NewBuffer(64)
	m.Encode(body)
	out := ninebuf.NewBuffer(HeaderSize + body.Len())
	Header{
		Size: uint32(HeaderSize + body.Len()),
		Type: m.MsgType(),
		Tag:  tag,
	}.encode(out)
	out.WriteBytes(body.Bytes())
	return out.Bytes()
}

// Unmarshal parses one complete framed message, returning its envelope and
// decoded payload. The declared size must equal the buffer length exactly.
func Unmarshal(msg []byte) (Header, Message, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.Size) != len(msg) {
		return h, nil, ErrSizeMismatch
	}
	m := newMessage(h.Type)
	if m == nil {
		return h, nil, ErrUnknownType
	}
	if err := m.Decode(ninebuf.NewReader(msg[HeaderSize:])); err != nil {
		return h, nil, fmt.Errorf("proto: decode %s: %w", TypeName(h.Type), err)
	}
	return h, m, nil
}

func newMessage(t uint8) Message {
	switch t {
	case MsgTversion:
		return &Tversion{}
	case MsgRversion:
		return &Rversion{}
	case MsgTauth:
		return &Tauth{}
	case MsgRauth:
		return &Rauth{}
	case MsgTattach:
		return &Tattach{}
	case MsgRattach:
		return &Rattach{}
	case MsgRerror:
		return &Rerror{}
	case MsgTflush:
		return &Tflush{}
	case MsgRflush:
		return &Rflush{}
	case MsgTwalk:
		return &Twalk{}
	case MsgRwalk:
		return &Rwalk{}
	case MsgTopen:
		return &Topen{}
	case MsgRopen:
		return &Ropen{}
	case MsgTcreate:
		return &Tcreate{}
	case MsgRcreate:
		return &Rcreate{}
	case MsgTread:
		return &Tread{}
	case MsgRread:
		return &Rread{}
	case MsgTwrite:
		return &Twrite{}
	case MsgRwrite:
		return &Rwrite{}
	case MsgTclunk:
		return &Tclunk{}
	case MsgRclunk:
		return &Rclunk{}
	case MsgTremove:
		return &Tremove{}
	case MsgRremove:
		return &Rremove{}
	case MsgTstat:
		return &Tstat{}
	case MsgRstat:
		return &Rstat{}
	default:
		return nil
	}
}

// Tversion proposes a maximum message size and protocol version.
type Tversion struct {
	Msize   uint32
	Version string
}

func (*Tversion) MsgType() uint8 { return MsgTversion }

func (m *Tversion) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Msize)
	buf.WriteString(m.Version)
}

func (m *Tversion) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Msize, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Version, err = r.ReadString()
	return err
}

// Rversion carries the negotiated message size and version (or the
// "unknown" escape).
type Rversion struct {
	Msize   uint32
	Version string
}

func (*Rversion) MsgType() uint8 { return MsgRversion }

func (m *Rversion) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Msize)
	buf.WriteString(m.Version)
}

func (m *Rversion) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Msize, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Version, err = r.ReadString()
	return err
}

// Tauth begins an authentication handshake on afid for uname/aname.
type Tauth struct {
	Afid  uint32
	Uname string
	Aname string
}

func (*Tauth) MsgType() uint8 { return MsgTauth }

func (m *Tauth) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Afid)
	buf.WriteString(m.Uname)
	buf.WriteString(m.Aname)
}

func (m *Tauth) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Afid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Uname, err = r.ReadString(); err != nil {
		return err
	}
	m.Aname, err = r.ReadString()
	return err
}

// Rauth returns the qid of the authentication file bound to the afid.
type Rauth struct {
	Aqid Qid
}

func (*Rauth) MsgType() uint8 { return MsgRauth }

func (m *Rauth) Encode(buf *ninebuf.Buffer) {
	m.Aqid.Encode(buf)
}

func (m *Rauth) Decode(r *ninebuf.Reader) error {
	var err error
	m.Aqid, err = DecodeQid(r)
	return err
}

// Tattach binds fid to the root of the tree named aname, as uname,
// presenting afid (or NoFid) as authentication.
type Tattach struct {
	Fid   uint32
	Afid  uint32
	Uname string
	Aname string
}

func (*Tattach) MsgType() uint8 { return MsgTattach }

func (m *Tattach) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteUint32(m.Afid)
	buf.WriteString(m.Uname)
	buf.WriteString(m.Aname)
}

func (m *Tattach) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Afid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Uname, err = r.ReadString(); err != nil {
		return err
	}
	m.Aname, err = r.ReadString()
	return err
}

// Rattach returns the qid of the attached root.
type Rattach struct {
	Qid Qid
}

func (*Rattach) MsgType() uint8 { return MsgRattach }

func (m *Rattach) Encode(buf *ninebuf.Buffer) {
	m.Qid.Encode(buf)
}

func (m *Rattach) Decode(r *ninebuf.Reader) error {
	var err error
	m.Qid, err = DecodeQid(r)
	return err
}

// Rerror is the universal failure response.
type Rerror struct {
	Ename string
}

func (*Rerror) MsgType() uint8 { return MsgRerror }

func (m *Rerror) Encode(buf *ninebuf.Buffer) {
	buf.WriteString(m.Ename)
}

func (m *Rerror) Decode(r *ninebuf.Reader) error {
	var err error
	m.Ename, err = r.ReadString()
	return err
}

// Tflush cancels the outstanding request carrying oldtag.
type Tflush struct {
	Oldtag uint16
}

func (*Tflush) MsgType() uint8 { return MsgTflush }

func (m *Tflush) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint16(m.Oldtag)
}

func (m *Tflush) Decode(r *ninebuf.Reader) error {
	var err error
	m.Oldtag, err = r.ReadUint16()
	return err
}

// Rflush acknowledges a flush.
type Rflush struct{}

func (*Rflush) MsgType() uint8               { return MsgRflush }
func (*Rflush) Encode(*ninebuf.Buffer)       {}
func (*Rflush) Decode(*ninebuf.Reader) error { return nil }

// Twalk resolves up to MaxWelem path elements from fid, binding the result
// to newfid. Zero elements clones fid.
type Twalk struct {
	Fid    uint32
	Newfid uint32
	Wnames []string
}

func (*Twalk) MsgType() uint8 { return MsgTwalk }

func (m *Twalk) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteUint32(m.Newfid)
	buf.WriteUint16(uint16(len(m.Wnames)))
	for _, name := range m.Wnames {
		buf.WriteString(name)
	}
}

func (m *Twalk) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Newfid, err = r.ReadUint32(); err != nil {
		return err
	}
	n, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if n > MaxWelem {
		return ErrTooManyNames
	}
	m.Wnames = make([]string, n)
	for i := range m.Wnames {
		if m.Wnames[i], err = r.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

// Rwalk returns one qid per successfully resolved path element.
type Rwalk struct {
	Wqids []Qid
}

func (*Rwalk) MsgType() uint8 { return MsgRwalk }

func (m *Rwalk) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint16(uint16(len(m.Wqids)))
	for _, q := range m.Wqids {
		q.Encode(buf)
	}
}

func (m *Rwalk) Decode(r *ninebuf.Reader) error {
	n, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if n > MaxWelem {
		return ErrTooManyNames
	}
	m.Wqids = make([]Qid, n)
	for i := range m.Wqids {
		if m.Wqids[i], err = DecodeQid(r); err != nil {
			return err
		}
	}
	return nil
}

// Topen prepares fid for I/O in the given mode.
type Topen struct {
	Fid  uint32
	Mode uint8
}

func (*Topen) MsgType() uint8 { return MsgTopen }

func (m *Topen) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteUint8(m.Mode)
}

func (m *Topen) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Mode, err = r.ReadUint8()
	return err
}

// Ropen confirms an open, reporting the qid and the preferred I/O unit
// (0 = use msize minus overhead).
type Ropen struct {
	Qid    Qid
	Iounit uint32
}

func (*Ropen) MsgType() uint8 { return MsgRopen }

func (m *Ropen) Encode(buf *ninebuf.Buffer) {
	m.Qid.Encode(buf)
	buf.WriteUint32(m.Iounit)
}

func (m *Ropen) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Qid, err = DecodeQid(r); err != nil {
		return err
	}
	m.Iounit, err = r.ReadUint32()
	return err
}

// Tcreate creates name in the directory bound to fid, then opens it.
type Tcreate struct {
	Fid  uint32
	Name string
	Perm uint32
	Mode uint8
}

func (*Tcreate) MsgType() uint8 { return MsgTcreate }

func (m *Tcreate) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteString(m.Name)
	buf.WriteUint32(m.Perm)
	buf.WriteUint8(m.Mode)
}

func (m *Tcreate) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.Perm, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Mode, err = r.ReadUint8()
	return err
}

// Rcreate confirms a create; the fid is rebound to the new resource.
type Rcreate struct {
	Qid    Qid
	Iounit uint32
}

func (*Rcreate) MsgType() uint8 { return MsgRcreate }

func (m *Rcreate) Encode(buf *ninebuf.Buffer) {
	m.Qid.Encode(buf)
	buf.WriteUint32(m.Iounit)
}

func (m *Rcreate) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Qid, err = DecodeQid(r); err != nil {
		return err
	}
	m.Iounit, err = r.ReadUint32()
	return err
}

// Tread requests count bytes at offset from fid.
type Tread struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

func (*Tread) MsgType() uint8 { return MsgTread }

func (m *Tread) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteUint64(m.Offset)
	buf.WriteUint32(m.Count)
}

func (m *Tread) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Offset, err = r.ReadUint64(); err != nil {
		return err
	}
	m.Count, err = r.ReadUint32()
	return err
}

// Rread returns the bytes read; zero bytes signals end of file.
type Rread struct {
	Data []byte
}

func (*Rread) MsgType() uint8 { return MsgRread }

func (m *Rread) Encode(buf *ninebuf.Buffer) {
	buf.WriteData(m.Data)
}

func (m *Rread) Decode(r *ninebuf.Reader) error {
	data, err := r.ReadData()
	if err != nil {
		return err
	}
	m.Data = make([]byte, len(data))
	copy(m.Data, data)
	return nil
}

// Twrite writes data at offset through fid.
type Twrite struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

func (*Twrite) MsgType() uint8 { return MsgTwrite }

func (m *Twrite) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
	buf.WriteUint64(m.Offset)
	buf.WriteData(m.Data)
}

func (m *Twrite) Decode(r *ninebuf.Reader) error {
	var err error
	if m.Fid, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Offset, err = r.ReadUint64(); err != nil {
		return err
	}
	data, err := r.ReadData()
	if err != nil {
		return err
	}
	m.Data = make([]byte, len(data))
	copy(m.Data, data)
	return nil
}

// Rwrite reports how many bytes the backend accepted.
type Rwrite struct {
	Count uint32
}

func (*Rwrite) MsgType() uint8 { return MsgRwrite }

func (m *Rwrite) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Count)
}

func (m *Rwrite) Decode(r *ninebuf.Reader) error {
	var err error
	m.Count, err = r.ReadUint32()
	return err
}

// Tclunk releases fid.
type Tclunk struct {
	Fid uint32
}

func (*Tclunk) MsgType() uint8 { return MsgTclunk }

func (m *Tclunk) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
}

func (m *Tclunk) Decode(r *ninebuf.Reader) error {
	var err error
	m.Fid, err = r.ReadUint32()
	return err
}

// Rclunk acknowledges a clunk.
type Rclunk struct{}

func (*Rclunk) MsgType() uint8               { return MsgRclunk }
func (*Rclunk) Encode(*ninebuf.Buffer)       {}
func (*Rclunk) Decode(*ninebuf.Reader) error { return nil }

// Tremove removes the resource bound to fid and releases the fid.
type Tremove struct {
	Fid uint32
}

func (*Tremove) MsgType() uint8 { return MsgTremove }

func (m *Tremove) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
}

func (m *Tremove) Decode(r *ninebuf.Reader) error {
	var err error
	m.Fid, err = r.ReadUint32()
	return err
}

// Rremove acknowledges a remove.
type Rremove struct{}

func (*Rremove) MsgType() uint8               { return MsgRremove }
func (*Rremove) Encode(*ninebuf.Buffer)       {}
func (*Rremove) Decode(*ninebuf.Reader) error { return nil }

// Tstat requests the metadata record for fid.
type Tstat struct {
	Fid uint32
}

func (*Tstat) MsgType() uint8 { return MsgTstat }

func (m *Tstat) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(m.Fid)
}

func (m *Tstat) Decode(r *ninebuf.Reader) error {
	var err error
	m.Fid, err = r.ReadUint32()
	return err
}

// Rstat carries one encoded stat record behind the protocol's extra
// two-byte length prefix. Backends produce the record bytes; DecodeStat
// interprets them.
type Rstat struct {
	Stat []byte
}

func (*Rstat) MsgType() uint8 { return MsgRstat }

func (m *Rstat) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint16(uint16(len(m.Stat)))
	buf.WriteBytes(m.Stat)
}

func (m *Rstat) Decode(r *ninebuf.Reader) error {
	n, err := r.ReadUint16()
	if err != nil {
		return err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return err
	}
	m.Stat = make([]byte, len(data))
	copy(m.Stat, data)
	return nil
}
