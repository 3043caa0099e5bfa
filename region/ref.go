package region

import "sync/atomic"

// Ref is a self-relative reference to a block inside a Region: an offset
// from the region's base plus a logical-deletion mark bit, both packed
// into a single word so a Harris-Michael next-pointer can be loaded,
// compared and CAS'd as one atomic value.
//
// This generalizes the id/index packing gofaster's pin.Location used to
// track GC-managed pointers into an offset/mark packing for PM-resident
// blocks addressed by stable offsets instead of Go pointers: the mark
// bit plays the role of the original C++ MarkPtr's low pointer bit.
//
// An earlier revision also packed a 14-bit key-derived tag into the top
// bits (mirroring htable's now-removed bucket tag), intended as a cheap
// pre-check before dereferencing a node. It was dropped: find's
// traversal must fetch and compare a candidate's full key regardless,
// to decide list order, so no call site ever got to skip a PM read by
// consulting a tag first. See DESIGN.md.
type Ref uint64

const (
	// NilRef is the null reference. Offset 0 is never allocated: it falls
	// inside the region header.
	NilRef Ref = 0

	refMarkBit   = uint64(1) << 0
	refOffsetMax = uint64(1)<<63 - 1
)

// NewRef builds a Ref from a byte offset. offset must be 8-byte aligned;
// the low 3 bits are reserved (bit 0 for the mark, 1-2 unused) and are
// cleared.
func NewRef(offset uint64) Ref {
	return Ref(offset &^ 0x7 & refOffsetMax)
}

func (r Ref) Offset() uint64 { return uint64(r) &^ refMarkBit & refOffsetMax }
func (r Ref) Marked() bool   { return uint64(r)&refMarkBit != 0 }
func (r Ref) IsNil() bool    { return r.Offset() == 0 }

func (r Ref) WithMark() Ref    { return Ref(uint64(r) | refMarkBit) }
func (r Ref) WithoutMark() Ref { return Ref(uint64(r) &^ refMarkBit) }

// LoadRef atomically loads the Ref stored at addr.
func LoadRef(addr *uint64) Ref { return Ref(atomic.LoadUint64(addr)) }

// StoreRef atomically stores r into addr.
func StoreRef(addr *uint64, r Ref) { atomic.StoreUint64(addr, uint64(r)) }

// CASRef atomically stores new into addr if it currently holds old.
func CASRef(addr *uint64, old, new Ref) bool {
	return atomic.CompareAndSwapUint64(addr, uint64(old), uint64(new))
}
