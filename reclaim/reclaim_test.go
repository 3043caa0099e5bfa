package reclaim

import (
	"path/filepath"
	"testing"

	"github.com/zeebo/pmap/epoch"
	"github.com/zeebo/pmap/internal/assert"
	"github.com/zeebo/pmap/region"
)

func TestDrainRespectsGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.pm")
	r, err := region.Open(path, 4<<20)
	assert.NoError(t, err)
	defer r.Close()

	tr := New(r, 3)
	h := epoch.NewHandle(9)

	ref, _, err := r.Alloc(64)
	assert.NoError(t, err)
	r.Commit(ref)

	at := epoch.Current()
	tr.Retire(h, ref, at)

	tr.Drain(h)
	assert.Equal(t, len(r.RecoverScan()), 1) // gap not elapsed, still live

	for i := uint64(0); i < 3; i++ {
		epoch.Bump()
	}

	tr.Drain(h)
	assert.Equal(t, len(r.RecoverScan()), 0) // now reclaimed
}

func TestDonateOnExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.pm")
	r, err := region.Open(path, 4<<20)
	assert.NoError(t, err)
	defer r.Close()

	tr := New(r, 2)
	h := epoch.NewHandle(4)

	ref, _, err := r.Alloc(64)
	assert.NoError(t, err)
	r.Commit(ref)
	tr.Retire(h, ref, epoch.Current())

	tr.DonateOnExit(h)
	assert.Equal(t, tr.Pending(), 1)

	other := epoch.NewHandle(5)
	for i := uint64(0); i < 2; i++ {
		epoch.Bump()
	}
	tr.Drain(other)
	assert.Equal(t, tr.Pending(), 0)
}
