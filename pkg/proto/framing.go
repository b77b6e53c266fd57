package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMessageTooLarge is returned when a stream frame declares a
	// length above the configured maximum.
	ErrMessageTooLarge = errors.New("proto: message exceeds maximum size")

	// ErrMessageTooSmall is returned when a stream frame declares a
	// length below the fixed header size.
	ErrMessageTooSmall = errors.New("proto: message smaller than header")
)

// Assembler reconstructs discrete 9P messages from an arbitrarily-chunked
// byte stream. It is the reference implementation of the framing
// discipline every carrier must honor: the leading 4-byte size field is
// the sole frame delimiter, and behavior is identical whether bytes
// arrive one at a time or a whole message per chunk.
//
// A declared length below the header size or above the configured maximum
// discards the accumulation and resets; corrupt lengths are never
// propagated upward.
type Assembler struct {
	maxSize uint32
	buf     []byte
	dropped uint64
}

// NewAssembler returns an Assembler that rejects declared lengths above
// maxSize. A zero maxSize uses MaxMsize.
func NewAssembler(maxSize uint32) *Assembler {
	if maxSize == 0 {
		maxSize = MaxMsize
	}
	return &Assembler{maxSize: maxSize}
}

// Feed consumes one chunk of carrier bytes and returns every complete
// message it finishes, each an independent copy. A chunk boundary may
// fall anywhere, including inside the length prefix.
func (a *Assembler) Feed(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)

	var msgs [][]byte
	for {
		if len(a.buf) < 4 {
			return msgs
		}
		size := binary.LittleEndian.Uint32(a.buf)
		if size < HeaderSize || size > a.maxSize {
			// Corrupt length: drop everything buffered and wait
			// for the carrier to resynchronize.
			a.buf = nil
			a.dropped++
			return msgs
		}
		if uint32(len(a.buf)) < size {
			return msgs
		}
		msg := make([]byte, size)
		copy(msg, a.buf[:size])
		a.buf = a.buf[size:]
		msgs = append(msgs, msg)
	}
}

// Pending returns the number of bytes buffered toward an incomplete
// message.
func (a *Assembler) Pending() int { return len(a.buf) }

// Dropped returns how many corrupt accumulations have been discarded.
func (a *Assembler) Dropped() uint64 { return a.dropped }

// Reset discards any partial accumulation.
func (a *Assembler) Reset() { a.buf = nil }

// ReadMessage reads exactly one complete 9P message from a stream,
// validating the declared size before allocating for it.
func ReadMessage(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = MaxMsize
	}
	var sz [4]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sz[:])
	if size < HeaderSize {
		return nil, ErrMessageTooSmall
	}
	if size > maxSize {
		return nil, ErrMessageTooLarge
	}
	msg := make([]byte, size)
	copy(msg, sz[:])
	if _, err := io.ReadFull(r, msg[4:]); err != nil {
		return nil, fmt.Errorf("proto: read message body: %w", err)
	}
	return msg, nil
}

// WriteMessage writes one complete framed message to a stream.
func WriteMessage(w io.Writer, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("proto: write message: %w", err)
	}
	return nil
}
