// Package pool provides the bounded tag and fid allocators used by both
// protocol engines. Both tables are arenas indexed by an in-use bitmap:
// allocation is a scan for a free slot, freeing is idempotent, and the
// protocol sentinels (NoTag, NoFid) are never handed out.
package pool

import (
	"errors"
	"math/bits"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

var (
	// ErrExhausted is returned when a table has no free slot.
	ErrExhausted = errors.New("pool: no free slot")

	// ErrInUse is returned when an explicit id is already allocated.
	ErrInUse = errors.New("pool: id already in use")
)

// DefaultTagCapacity bounds concurrent outstanding requests per session.
const DefaultTagCapacity = 64

// TagTable allocates 16-bit correlation tags from a fixed-size pool.
// It is not safe for concurrent use; callers serialize access under the
// engine lock.
type TagTable struct {
	bitmap []uint64
	cap    uint16
	hint   uint16
}

// NewTagTable returns a table of n tags (ids 0..n-1). A zero n uses
// DefaultTagCapacity; n is clamped below the NoTag sentinel.
func NewTagTable(n int) *TagTable {
	if n <= 0 {
		n = DefaultTagCapacity
	}
	if n >= int(proto.NoTag) {
		n = int(proto.NoTag) - 1
	}
	return &TagTable{
		bitmap: make([]uint64, (n+63)/64),
		cap:    uint16(n),
	}
}

// Alloc returns a free tag, scanning from the last allocation point so
// recently freed tags are not immediately reused under normal load.
func (t *TagTable) Alloc() (uint16, error) {
	for i := uint16(0); i < t.cap; i++ {
		tag := (t.hint + i) % t.cap
		if !t.testBit(tag) {
			t.setBit(tag)
			t.hint = tag + 1
			return tag, nil
		}
	}
	return 0, ErrExhausted
}

// Free releases a tag. Freeing a tag that is not in use is a no-op.
func (t *TagTable) Free(tag uint16) {
	if tag < t.cap {
		t.bitmap[tag/64] &^= 1 << (tag % 64)
	}
}

// InUse reports whether a tag is currently allocated.
func (t *TagTable) InUse(tag uint16) bool {
	return tag < t.cap && t.testBit(tag)
}

// Len returns the number of allocated tags.
func (t *TagTable) Len() int {
	n := 0
	for _, w := range t.bitmap {
		n += bits.OnesCount64(w)
	}
	return n
}

// Cap returns the table capacity.
func (t *TagTable) Cap() int { return int(t.cap) }

func (t *TagTable) testBit(tag uint16) bool {
	return t.bitmap[tag/64]&(1<<(tag%64)) != 0
}

func (t *TagTable) setBit(tag uint16) {
	t.bitmap[tag/64] |= 1 << (tag % 64)
}
