package htable

import (
	"encoding/binary"

	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/region"
)

// A map node's payload (spec §3's "specialisation of PBlk") is laid out
// as an atomically-mutated next pointer followed by the node's
// immutable key and value bytes:
//
//	next   uint64  (region.Ref, atomically CAS'd for logical delete/excise)
//	keyLen uint32
//	valLen uint32
//	key    []byte
//	val    []byte
//
// Unlike a Field[T]'s versioned cell, next is mutated in place rather
// than through a new PBlk version: the Harris-Michael list's mark bit
// and excise CAS operate directly on one node's own storage, per
// PLockfreeHashTable.hpp's markAndSetPtr.
const nodePayloadHeader = 16

func encodeNode(next region.Ref, key, val []byte) []byte {
	buf := make([]byte, nodePayloadHeader+len(key)+len(val))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(next))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(val)))
	copy(buf[nodePayloadHeader:], key)
	copy(buf[nodePayloadHeader+len(key):], val)
	return buf
}

func nodeNextPtr(r *region.Region, ref region.Ref) *uint64 {
	return (*uint64)(pblk.PayloadPtr(r, ref))
}

func nodeKey(r *region.Region, ref region.Ref) []byte {
	payload := pblk.Payload(r, ref)
	kl := binary.LittleEndian.Uint32(payload[8:12])
	return payload[nodePayloadHeader : nodePayloadHeader+kl]
}

func nodeVal(r *region.Region, ref region.Ref) []byte {
	payload := pblk.Payload(r, ref)
	kl := binary.LittleEndian.Uint32(payload[8:12])
	vl := binary.LittleEndian.Uint32(payload[12:16])
	return payload[nodePayloadHeader+kl : nodePayloadHeader+kl+vl]
}

func loadNext(r *region.Region, ref region.Ref) region.Ref {
	return region.LoadRef(nodeNextPtr(r, ref))
}

func storeNext(r *region.Region, ref region.Ref, val region.Ref) {
	region.StoreRef(nodeNextPtr(r, ref), val)
}

func casNext(r *region.Region, ref region.Ref, old, new region.Ref) bool {
	return region.CASRef(nodeNextPtr(r, ref), old, new)
}
