package proto

import (
	"errors"
	"fmt"

	"github.com/jrsharp/9p4z-sub000/pkg/ninebuf"
)

var (
	// ErrShortHeader is returned when a buffer cannot hold a full envelope.
	ErrShortHeader = errors.New("proto: buffer shorter than message header")

	// ErrBadSize is returned when a header declares a size smaller than
	// the header itself.
	ErrBadSize = errors.New("proto: declared size smaller than header")
)

// Header is the fixed envelope carried by every 9P message:
// size[4] type[1] tag[2], all little-endian. Size counts the whole
// message, header included.
type Header struct {
	Size uint32
	Type uint8
	Tag  uint16
}

// ParseHeader decodes the envelope from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	r := ninebuf.NewReader(buf)
	var h Header
	h.Size, _ = r.ReadUint32()
	h.Type, _ = r.ReadUint8()
	h.Tag, _ = r.ReadUint16()
	if h.Size < HeaderSize {
		return Header{}, ErrBadSize
	}
	return h, nil
}

func (h Header) encode(buf *ninebuf.Buffer) {
	buf.WriteUint32(h.Size)
	buf.WriteUint8(h.Type)
	buf.WriteUint16(h.Tag)
}

// Qid is a resource's stable identity: a type byte, a version counter
// bumped on content change, and a 64-bit path unique among all resources
// on a server.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// IsDir reports whether the qid identifies a directory.
func (q Qid) IsDir() bool { return q.Type&QTDir != 0 }

// IsAuth reports whether the qid identifies an authentication file.
func (q Qid) IsAuth() bool { return q.Type&QTAuth != 0 }

// Encode appends the fixed 13-byte qid record.
func (q Qid) Encode(buf *ninebuf.Buffer) {
	buf.WriteUint8(q.Type)
	buf.WriteUint32(q.Version)
	buf.WriteUint64(q.Path)
}

// DecodeQid reads a fixed 13-byte qid record.
func DecodeQid(r *ninebuf.Reader) (Qid, error) {
	var q Qid
	var err error
	if q.Type, err = r.ReadUint8(); err != nil {
		return q, err
	}
	if q.Version, err = r.ReadUint32(); err != nil {
		return q, err
	}
	if q.Path, err = r.ReadUint64(); err != nil {
		return q, err
	}
	return q, nil
}

func (q Qid) String() string {
	return fmt.Sprintf("(%x %d %#x)", q.Path, q.Version, q.Type)
}

// anonUser is the identity recorded in stat records when the backend does
// not track ownership.
const anonUser = "ninep"

// Stat is the variable-length metadata record for one resource. The
// engine never caches these; backends produce them on demand.
type Stat struct {
	Type   uint16
	Dev    uint32
	Qid    Qid
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	UID    string
	GID    string
	MUID   string
}

// Encode appends the stat record: a two-byte self-length prefix (counting
// everything after the prefix), the fixed fields, and the four
// length-prefixed strings. Empty identity strings default to a fixed
// placeholder.
func (s Stat) Encode(buf *ninebuf.Buffer) {
	uid, gid, muid := s.UID, s.GID, s.MUID
	if uid == "" {
		uid = anonUser
	}
	if gid == "" {
		gid = anonUser
	}
	if muid == "" {
		muid = anonUser
	}
	// fixed fields + qid + four string prefixes
	n := 2 + 4 + QidSize + 4 + 4 + 4 + 8 +
		2 + len(s.Name) + 2 + len(uid) + 2 + len(gid) + 2 + len(muid)
	buf.WriteUint16(uint16(n))
	buf.WriteUint16(s.Type)
	buf.WriteUint32(s.Dev)
	s.Qid.Encode(buf)
	buf.WriteUint32(s.Mode)
	buf.WriteUint32(s.Atime)
	buf.WriteUint32(s.Mtime)
	buf.WriteUint64(s.Length)
	buf.WriteString(s.Name)
	buf.WriteString(uid)
	buf.WriteString(gid)
	buf.WriteString(muid)
}

// Bytes returns the encoded stat record, as consumed by Rstat and by
// directory reads.
func (s Stat) Bytes() []byte {
	buf := ninebuf.NewBuffer(64)
	s.Encode(buf)
	return buf.Bytes()
}

// DecodeStat reads one stat record. The self-length prefix is validated
// against the remaining buffer before any field is read.
func DecodeStat(r *ninebuf.Reader) (Stat, error) {
	var s Stat
	n, err := r.ReadUint16()
	if err != nil {
		return s, err
	}
	if int(n) > r.Remaining() {
		return s, ninebuf.ErrShortBuffer
	}
	if s.Type, err = r.ReadUint16(); err != nil {
		return s, err
	}
	if s.Dev, err = r.ReadUint32(); err != nil {
		return s, err
	}
	if s.Qid, err = DecodeQid(r); err != nil {
		return s, err
	}
	if s.Mode, err = r.ReadUint32(); err != nil {
		return s, err
	}
	if s.Atime, err = r.ReadUint32(); err != nil {
		return s, err
	}
	if s.Mtime, err = r.ReadUint32(); err != nil {
		return s, err
	}
	if s.Length, err = r.ReadUint64(); err != nil {
		return s, err
	}
	if s.Name, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.UID, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.GID, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.MUID, err = r.ReadString(); err != nil {
		return s, err
	}
	return s, nil
}
