package recovery

import (
	"path/filepath"
	"testing"

	"github.com/zeebo/pmap/internal/assert"
	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/region"
)

func openRegion(t *testing.T) *region.Region {
	path := filepath.Join(t.TempDir(), "region.pm")
	r, err := region.Open(path, 4<<20)
	assert.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestScanPicksHighestEpoch(t *testing.T) {
	r := openRegion(t)

	v1, err := pblk.NewVersion(r, 1, pblk.TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	v2, err := pblk.NewVersion(r, 1, pblk.TypeUpdate, 2, v1, []byte("v2"))
	assert.NoError(t, err)
	r.Commit(v2)

	live := Scan(r, 4)
	assert.Equal(t, len(live), 1)
	assert.Equal(t, live[1], v2)

	// the superseded version should have been freed
	assert.Equal(t, len(r.RecoverScan()), 1)
}

func TestScanDropsDeletedID(t *testing.T) {
	r := openRegion(t)

	v1, err := pblk.NewVersion(r, 1, pblk.TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	v2, err := pblk.NewVersion(r, 1, pblk.TypeDelete, 2, v1, nil)
	assert.NoError(t, err)
	r.Commit(v2)

	live := Scan(r, 2)
	assert.Equal(t, len(live), 0)
	assert.Equal(t, len(r.RecoverScan()), 0)
}

func TestScanIsIdempotent(t *testing.T) {
	r := openRegion(t)

	v1, err := pblk.NewVersion(r, 1, pblk.TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	first := Scan(r, 3)
	second := Scan(r, 3)
	assert.Equal(t, len(first), len(second))
	assert.Equal(t, first[1], second[1])
}

func TestScanDiscardsCorruptBlock(t *testing.T) {
	r := openRegion(t)

	v1, err := pblk.NewVersion(r, 1, pblk.TypeAlloc, 1, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	r.Commit(v1)

	pblk.Payload(r, v1)[0] ^= 0xff

	live := Scan(r, 1)
	assert.Equal(t, len(live), 0)
}
