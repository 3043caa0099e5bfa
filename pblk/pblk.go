// Package pblk implements the persistent block (PBlk) versioning layer
// (C4): the 40-byte durable header every allocated block begins with,
// its CRC32 (C10), and the version-chain walk a reader uses to find the
// block live as of a given epoch.
//
// Field layout is grounded on pblk_naked.hpp's PBlk base struct (id,
// names for the epoch/prev/type fields carried over directly), adapted
// from raw pointers to the self-relative region.Ref offsets Design
// Note §9 calls for.
package pblk

import (
	"encoding/binary"
	"hash/crc32"
	"unsafe"

	"github.com/zeebo/pmap/internal/risky"
	"github.com/zeebo/pmap/pm"
	"github.com/zeebo/pmap/region"
)

// Type tags a PBlk version, per spec §3.
type Type uint8

const (
	TypeAlloc Type = iota
	TypeUpdate
	TypeDelete
	TypeOwned
)

// Header is the 40-byte durable block header every PBlk payload follows.
type Header struct {
	ID         uint64
	Epoch      uint64
	Prev       uint64 // region.Ref offset of the previous version, 0 = null
	Type       Type
	_          [7]byte
	PayloadLen uint32
	CRC32      uint32
}

const HeaderSize = 40

type (
	_ [unsafe.Sizeof(Header{}) - HeaderSize]byte
	_ [HeaderSize - unsafe.Sizeof(Header{})]byte
)

func headerAt(r *region.Region, ref region.Ref) *Header {
	return (*Header)(r.Pointer(ref))
}

func payloadAt(r *region.Region, ref region.Ref) []byte {
	h := headerAt(r, ref)
	return risky.Slice(PayloadPtr(r, ref), int(h.PayloadLen))
}

// PayloadPtr returns a pointer to ref's first payload byte, for callers
// that need to perform their own atomic loads/stores/CAS inside the
// payload (e.g. htable's in-place next-pointer mutation) rather than go
// through a PBlk version chain.
func PayloadPtr(r *region.Region, ref region.Ref) unsafe.Pointer {
	return risky.Add(r.Pointer(ref), HeaderSize)
}

// checksum computes the CRC32 (IEEE) over the header minus its own
// CRC32 field, followed by the payload, per spec §4.10.
func checksum(h *Header, payload []byte) uint32 {
	var buf [HeaderSize - 4]byte
	binary.LittleEndian.PutUint64(buf[0:], h.ID)
	binary.LittleEndian.PutUint64(buf[8:], h.Epoch)
	binary.LittleEndian.PutUint64(buf[16:], h.Prev)
	buf[24] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[32:], h.PayloadLen)

	crc := crc32.ChecksumIEEE(buf[:])
	return crc32.Update(crc, crc32.IEEETable, payload)
}

// NewVersion allocates a fresh block via r, initializes its header and
// copies payload in, flushes header+payload and fences, per C4's
// new_version. It does NOT publish: the caller (txn.Scope) links the
// returned Ref into pending_updates/pending_allocs and calls
// region.Region.Commit only once the transaction's end_op decides to
// commit.
func NewVersion(r *region.Region, id uint64, typ Type, epoch uint64, prev region.Ref, payload []byte) (region.Ref, error) {
	ref, ptr, err := r.Alloc(HeaderSize + len(payload))
	if err != nil {
		return region.NilRef, err
	}

	h := (*Header)(ptr)
	h.ID = id
	h.Epoch = epoch
	h.Prev = uint64(prev)
	h.Type = typ
	h.PayloadLen = uint32(len(payload))

	dst := risky.Slice(risky.Add(ptr, HeaderSize), len(payload))
	copy(dst, payload)

	h.CRC32 = checksum(h, payload)

	pm.FlushRange(ptr, uintptr(HeaderSize+len(payload)))
	pm.Fence()

	return ref, nil
}

// Verify recomputes ref's checksum and reports whether it still matches
// the stored one. A mismatch means the block should be treated as if
// never written (spec §7 category 4), never as a fatal error.
func Verify(r *region.Region, ref region.Ref) bool {
	h := headerAt(r, ref)
	payload := payloadAt(r, ref)
	return checksum(h, payload) == h.CRC32
}

// Header returns ref's header.
func HeaderOf(r *region.Region, ref region.Ref) *Header { return headerAt(r, ref) }

// Payload returns ref's payload bytes.
func Payload(r *region.Region, ref region.Ref) []byte { return payloadAt(r, ref) }

// Prev returns the Ref of the previous version in ref's chain, or
// NilRef if ref is the oldest surviving version.
func Prev(r *region.Region, ref region.Ref) region.Ref {
	prev := headerAt(r, ref).Prev
	if prev == 0 {
		return region.NilRef
	}
	return region.Ref(prev)
}

// LiveAt walks ref's version chain and returns the highest-epoch
// version with type ALLOC or UPDATE whose epoch is <= e, per C4's
// version-chain traversal contract. A DELETE version with epoch <= e
// that is newer than any such version makes the block absent as of e.
// It returns NilRef in that case, and when every version is newer
// than e.
func LiveAt(r *region.Region, ref region.Ref, e uint64) region.Ref {
	for cur := ref; !cur.IsNil(); cur = Prev(r, cur) {
		h := headerAt(r, cur)
		if h.Epoch > e {
			continue
		}
		switch h.Type {
		case TypeAlloc, TypeUpdate:
			return cur
		case TypeDelete:
			return region.NilRef
		}
	}
	return region.NilRef
}
