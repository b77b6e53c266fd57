// Package proto defines the 9P2000 wire protocol: message types, qid and
// stat records, typed messages with binary Encode/Decode, and the
// length-prefixed framing every carrier must honor.
package proto

import "strconv"

// Version is the only protocol version this engine speaks.
const Version = "9P2000"

// VersionUnknown is the protocol-defined escape returned by Rversion when
// the peer proposes a version the server does not support. It is not an
// error message.
const VersionUnknown = "unknown"

// 9P message types. Terror is illegal on the wire; it exists only to keep
// the numbering aligned with the protocol definition.
const (
	MsgTversion uint8 = 100 + iota
	MsgRversion
	MsgTauth
	MsgRauth
	MsgTattach
	MsgRattach
	MsgTerror
	MsgRerror
	MsgTflush
	MsgRflush
	MsgTwalk
	MsgRwalk
	MsgTopen
	MsgRopen
	MsgTcreate
	MsgRcreate
	MsgTread
	MsgRread
	MsgTwrite
	MsgRwrite
	MsgTclunk
	MsgRclunk
	MsgTremove
	MsgRremove
	MsgTstat
	MsgRstat
	MsgTwstat
	MsgRwstat
)

// Qid type bits.
const (
	QTDir    uint8 = 0x80 // directory
	QTAppend uint8 = 0x40 // append only
	QTExcl   uint8 = 0x20 // exclusive use
	QTMount  uint8 = 0x10 // mounted channel
	QTAuth   uint8 = 0x08 // authentication file
	QTTmp    uint8 = 0x04 // temporary file
	QTFile   uint8 = 0x00 // regular file
)

// Open/create mode bits.
const (
	OREAD   uint8 = 0x00 // open read-only
	OWRITE  uint8 = 0x01 // open write-only
	ORDWR   uint8 = 0x02 // open read-write
	OEXEC   uint8 = 0x03 // execute
	OTRUNC  uint8 = 0x10 // truncate file
	ORCLOSE uint8 = 0x40 // remove on clunk
)

// Directory entry mode bits.
const (
	DMDir    uint32 = 0x80000000
	DMAppend uint32 = 0x40000000
	DMExcl   uint32 = 0x20000000
	DMAuth   uint32 = 0x08000000
	DMTmp    uint32 = 0x04000000
	DMRead   uint32 = 0x4
	DMWrite  uint32 = 0x2
	DMExec   uint32 = 0x1
)

// Sentinel handles. Neither value is ever allocated from a pool.
const (
	NoFid uint32 = 0xFFFFFFFF
	NoTag uint16 = 0xFFFF
)

const (
	// HeaderSize is the fixed envelope length: size[4] type[1] tag[2].
	HeaderSize = 7

	// QidSize is the fixed encoded length of a qid.
	QidSize = 13

	// IOHeaderSize is the non-data overhead of a Twrite/Rread message,
	// used when clamping payloads to the negotiated msize.
	IOHeaderSize = HeaderSize + 4 + 8 + 4

	// MaxWelem is the maximum path element count in a single Twalk.
	MaxWelem = 16

	// DefaultMsize is the message size proposed by clients before
	// negotiation.
	DefaultMsize = 8192

	// MaxMsize caps what a server will ever negotiate, bounding buffer
	// allocation against hostile size proposals.
	MaxMsize = 1 << 20
)

// TypeNames maps message types to their protocol names for logging.
var TypeNames = map[uint8]string{
	MsgTversion: "Tversion",
	MsgRversion: "Rversion",
	MsgTauth:    "Tauth",
	MsgRauth:    "Rauth",
	MsgTattach:  "Tattach",
	MsgRattach:  "Rattach",
	MsgRerror:   "Rerror",
	MsgTflush:   "Tflush",
	MsgRflush:   "Rflush",
	MsgTwalk:    "Twalk",
	MsgRwalk:    "Rwalk",
	MsgTopen:    "Topen",
	MsgRopen:    "Ropen",
	MsgTcreate:  "Tcreate",
	MsgRcreate:  "Rcreate",
	MsgTread:    "Tread",
	MsgRread:    "Rread",
	MsgTwrite:   "Twrite",
	MsgRwrite:   "Rwrite",
	MsgTclunk:   "Tclunk",
	MsgRclunk:   "Rclunk",
	MsgTremove:  "Tremove",
	MsgRremove:  "Rremove",
	MsgTstat:    "Tstat",
	MsgRstat:    "Rstat",
	MsgTwstat:   "Twstat",
	MsgRwstat:   "Rwstat",
}

// TypeName returns the protocol name for a message type, or the numeric
// value for types outside the 9P2000 set.
func TypeName(t uint8) string {
	if n, ok := TypeNames[t]; ok {
		return n
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}
