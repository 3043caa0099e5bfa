package txn

import (
	"path/filepath"
	"testing"

	"github.com/zeebo/pmap/epoch"
	"github.com/zeebo/pmap/internal/assert"
	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/reclaim"
	"github.com/zeebo/pmap/region"
)

func newScope(t *testing.T) (*Scope, *region.Region) {
	path := filepath.Join(t.TempDir(), "region.pm")
	r, err := region.Open(path, 4<<20)
	assert.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	tracker := reclaim.New(r, 2)
	s := New(r, tracker, epoch.NewHandle(1))
	return s, r
}

func TestCommitPublishesPending(t *testing.T) {
	s, r := newScope(t)

	s.BeginOp()
	ref, err := s.OpenWrite(1, pblk.TypeAlloc, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	s.EndOp()

	assert.Equal(t, len(r.RecoverScan()), 1)

	s.BeginOp()
	assert.Equal(t, string(pblk.Payload(r, s.OpenRead(ref))), "v1")
	s.EndReadOnlyOp()
}

func TestAbortRollsBackAllocs(t *testing.T) {
	s, r := newScope(t)

	s.BeginOp()
	_, err := s.OpenWrite(1, pblk.TypeAlloc, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	s.AbortOp()
	s.EndOp()

	assert.Equal(t, len(r.RecoverScan()), 0)
}

func TestAbortedWritesAreNoOps(t *testing.T) {
	s, _ := newScope(t)

	s.BeginOp()
	s.AbortOp()
	ref, err := s.OpenWrite(1, pblk.TypeAlloc, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	assert.That(t, ref.IsNil())
	s.EndOp()
}

func TestRetireHandsOffToTracker(t *testing.T) {
	s, r := newScope(t)

	s.BeginOp()
	ref, err := s.OpenWrite(1, pblk.TypeAlloc, region.NilRef, []byte("v1"))
	assert.NoError(t, err)
	s.EndOp()

	s.BeginOp()
	s.Pretire(ref)
	s.EndOp()

	assert.Equal(t, s.tracker.Pending(), 1)
	_ = r
}
