package txn

import (
	"encoding/binary"
	"testing"

	"github.com/zeebo/pmap/internal/assert"
	"github.com/zeebo/pmap/region"
)

func intField(id uint64) *Field[int64] {
	return NewField(id,
		func(v int64) []byte {
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(v))
			return buf
		},
		func(b []byte) int64 {
			return int64(binary.LittleEndian.Uint64(b))
		},
	)
}

func TestFieldSetGet(t *testing.T) {
	s, _ := newScope(t)
	f := intField(1)

	s.BeginOp()
	ref, err := f.Set(s, region.NilRef, 42)
	assert.NoError(t, err)
	s.EndOp()

	s.BeginOp()
	v, ok := f.Get(s, ref)
	assert.That(t, ok)
	assert.Equal(t, v, int64(42))
	s.EndReadOnlyOp()

	s.BeginOp()
	ref2, err := f.Set(s, ref, 43)
	assert.NoError(t, err)
	s.EndOp()

	s.BeginOp()
	v2, ok := f.Get(s, ref2)
	assert.That(t, ok)
	assert.Equal(t, v2, int64(43))
	s.EndReadOnlyOp()
}

func TestFieldDelete(t *testing.T) {
	s, _ := newScope(t)
	f := intField(1)

	s.BeginOp()
	ref, err := f.Set(s, region.NilRef, 1)
	assert.NoError(t, err)
	s.EndOp()

	s.BeginOp()
	ref2, err := f.Delete(s, ref)
	assert.NoError(t, err)
	s.EndOp()

	s.BeginOp()
	_, ok := f.Get(s, ref2)
	assert.That(t, !ok)
	s.EndReadOnlyOp()
}
