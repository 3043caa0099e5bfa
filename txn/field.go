package txn

import (
	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/region"
)

// Field collapses the source's GENERATE_FIELD/GENERATE_ARRAY macros
// (per-field getter/setter pairs that route through OpenReadPBlk /
// OpenWritePBlk) into a single generic versioned-cell primitive, per
// Design Note §9. One Field[T] describes how to encode/decode a Go
// value of type T to and from a PBlk payload; a value's current
// version lives in a region.Ref the caller threads through Get/Set.
type Field[T any] struct {
	id     uint64
	encode func(T) []byte
	decode func([]byte) T
}

// NewField builds a Field for logical identity id using the given
// codec. id must be stable across the lifetime of whatever structure
// embeds this field, since PBlk version chains are keyed by id.
func NewField[T any](id uint64, encode func(T) []byte, decode func([]byte) T) *Field[T] {
	return &Field[T]{id: id, encode: encode, decode: decode}
}

// Get reads the value live in head as of s's epoch. ok is false if no
// live version exists (the chain is empty or entirely deleted).
func (f *Field[T]) Get(s *Scope, head region.Ref) (value T, ok bool) {
	ref := s.OpenRead(head)
	if ref.IsNil() {
		return value, false
	}
	return f.decode(pblk.Payload(s.r, ref)), true
}

// Set writes a new version of the field chained from head and returns
// its Ref, which becomes the new head once the caller's transaction
// commits. typ should be pblk.TypeAlloc when head is nil, otherwise
// pblk.TypeUpdate.
func (f *Field[T]) Set(s *Scope, head region.Ref, value T) (region.Ref, error) {
	typ := pblk.TypeUpdate
	if head.IsNil() {
		typ = pblk.TypeAlloc
	}
	return s.OpenWrite(f.id, typ, head, f.encode(value))
}

// Delete writes a DELETE version chained from head, marking the field
// logically absent as of s's epoch.
func (f *Field[T]) Delete(s *Scope, head region.Ref) (region.Ref, error) {
	return s.OpenWrite(f.id, pblk.TypeDelete, head, nil)
}
