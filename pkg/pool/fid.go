package pool

import (
	"math/bits"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

// DefaultFidCapacity bounds live resource handles per session.
const DefaultFidCapacity = 128

type fidSlot[T any] struct {
	id  uint32
	val T
}

// FidTable binds 32-bit resource handles to per-fid state of type T. The
// protocol lets a peer choose its own fid numbers, so the table supports
// both explicit insertion (server side) and allocation of a fresh id
// (client side). Slots live in a fixed arena with an in-use bitmap; the
// id index gives O(1) lookup. Not safe for concurrent use; callers
// serialize access under the engine lock.
type FidTable[T any] struct {
	slots  []fidSlot[T]
	bitmap []uint64
	index  map[uint32]int
	nextID uint32
}

// NewFidTable returns a table with room for n fids. A zero n uses
// DefaultFidCapacity.
func NewFidTable[T any](n int) *FidTable[T] {
	if n <= 0 {
		n = DefaultFidCapacity
	}
	return &FidTable[T]{
		slots:  make([]fidSlot[T], n),
		bitmap: make([]uint64, (n+63)/64),
		index:  make(map[uint32]int, n),
	}
}

// Insert binds an explicitly chosen fid. It rejects the NoFid sentinel
// and any id already in use.
func (t *FidTable[T]) Insert(id uint32, val T) error {
	if id == proto.NoFid {
		return ErrInUse
	}
	if _, ok := t.index[id]; ok {
		return ErrInUse
	}
	slot, ok := t.freeSlot()
	if !ok {
		return ErrExhausted
	}
	t.slots[slot] = fidSlot[T]{id: id, val: val}
	t.bitmap[slot/64] |= 1 << (slot % 64)
	t.index[id] = slot
	return nil
}

// Alloc binds val to a fresh id of the table's choosing, skipping ids in
// use and the NoFid sentinel.
func (t *FidTable[T]) Alloc(val T) (uint32, error) {
	for range t.slots {
		id := t.nextID
		t.nextID++
		if id == proto.NoFid {
			t.nextID = 0
			id = 0
		}
		if _, ok := t.index[id]; ok {
			continue
		}
		if err := t.Insert(id, val); err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, ErrExhausted
}

// Lookup returns the state bound to id.
func (t *FidTable[T]) Lookup(id uint32) (T, bool) {
	var zero T
	slot, ok := t.index[id]
	if !ok {
		return zero, false
	}
	return t.slots[slot].val, true
}

// Update replaces the state bound to an existing id.
func (t *FidTable[T]) Update(id uint32, val T) bool {
	slot, ok := t.index[id]
	if !ok {
		return false
	}
	t.slots[slot].val = val
	return true
}

// Free releases id. Freeing an unbound id is a no-op; the id may be
// reused immediately.
func (t *FidTable[T]) Free(id uint32) {
	slot, ok := t.index[id]
	if !ok {
		return
	}
	var zero fidSlot[T]
	t.slots[slot] = zero
	t.bitmap[slot/64] &^= 1 << (slot % 64)
	delete(t.index, id)
}

// Clear releases every fid. Used when a version renegotiation resets the
// session.
func (t *FidTable[T]) Clear() {
	var zero fidSlot[T]
	for i := range t.slots {
		t.slots[i] = zero
	}
	for i := range t.bitmap {
		t.bitmap[i] = 0
	}
	clear(t.index)
}

// Each calls fn for every bound fid.
func (t *FidTable[T]) Each(fn func(id uint32, val T)) {
	for id, slot := range t.index {
		fn(id, t.slots[slot].val)
	}
}

// Len returns the number of bound fids.
func (t *FidTable[T]) Len() int { return len(t.index) }

// Cap returns the table capacity.
func (t *FidTable[T]) Cap() int { return len(t.slots) }

func (t *FidTable[T]) freeSlot() (int, bool) {
	for i, w := range t.bitmap {
		if w != ^uint64(0) {
			slot := i*64 + bits.TrailingZeros64(^w)
			if slot < len(t.slots) {
				return slot, true
			}
		}
	}
	return 0, false
}
