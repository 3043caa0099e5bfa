package pblk

import (
	"path/filepath"
	"testing"

	"github.com/zeebo/pmap/internal/assert"
	"github.com/zeebo/pmap/region"
)

func openRegion(t *testing.T) *region.Region {
	path := filepath.Join(t.TempDir(), "region.pm")
	r, err := region.Open(path, 4<<20)
	assert.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewVersionAndVerify(t *testing.T) {
	r := openRegion(t)

	ref, err := NewVersion(r, 1, TypeAlloc, 5, region.NilRef, []byte("hello"))
	assert.NoError(t, err)
	r.Commit(ref)

	assert.That(t, Verify(r, ref))
	assert.Equal(t, string(Payload(r, ref)), "hello")
	assert.Equal(t, HeaderOf(r, ref).Epoch, uint64(5))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	r := openRegion(t)

	ref, err := NewVersion(r, 1, TypeAlloc, 5, region.NilRef, []byte("hello"))
	assert.NoError(t, err)
	r.Commit(ref)

	Payload(r, ref)[0] ^= 0xff
	assert.That(t, !Verify(r, ref))
}

func TestLiveAtWalksChain(t *testing.T) {
	r := openRegion(t)

	v1, err := NewVersion(r, 1, TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	v2, err := NewVersion(r, 1, TypeUpdate, 3, v1, []byte("v2"))
	assert.NoError(t, err)
	r.Commit(v2)

	v3, err := NewVersion(r, 1, TypeUpdate, 5, v2, []byte("v3"))
	assert.NoError(t, err)
	r.Commit(v3)

	assert.Equal(t, LiveAt(r, v3, 5), v3)
	assert.Equal(t, LiveAt(r, v3, 4), v2)
	assert.Equal(t, LiveAt(r, v3, 1), v1)
	assert.That(t, LiveAt(r, v3, 0).IsNil())
}

func TestLiveAtSkipsDelete(t *testing.T) {
	r := openRegion(t)

	v1, err := NewVersion(r, 1, TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	v2, err := NewVersion(r, 1, TypeDelete, 2, v1, nil)
	assert.NoError(t, err)
	r.Commit(v2)

	assert.That(t, LiveAt(r, v2, 2).IsNil())
	assert.Equal(t, LiveAt(r, v2, 1), v1)
}
