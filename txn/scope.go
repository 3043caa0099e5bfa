// Package txn implements the transaction scope (C5): begin_op/end_op/
// abort_op and the read/write opening of PBlk versions, plus the
// versioned-cell Field[T] abstraction Design Note §9 calls for in place
// of macro-generated field accessors.
//
// Grounded on pblk_naked.hpp's EpochSys::begin_op/end_op/abort_op and
// its OpenReadPBlk/OpenWritePBlk/RegisterAllocPBlk/Retire/Preclaim
// methods, adapted from the RAII EpochHolder idiom (constructor calls
// begin_op, destructor calls end_op) to Go's explicit-defer idiom, the
// way gofaster's own FASTER.StartSession/StopSession pairing is used.
package txn

import (
	"errors"
	"fmt"

	"github.com/zeebo/pmap/epoch"
	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/reclaim"
	"github.com/zeebo/pmap/region"
)

// ErrProgrammerContract is raised (and the process terminated, per spec
// §7 category 5) when a scope operation is attempted outside an active
// transaction.
var ErrProgrammerContract = errors.New("txn: operation outside begin_op/end_op")

type pending struct {
	ref   region.Ref
	alloc bool // true if this ref's slot was freshly reserved this txn
}

type retireEntry struct {
	ref   region.Ref
	epoch uint64
}

// Scope is one thread's transaction state, the per-thread epoch record
// of spec §3 plus its pending-lists.
type Scope struct {
	r       *region.Region
	tracker *reclaim.Tracker
	handle  epoch.Handle

	epoch   uint64
	pending []pending
	retires []retireEntry
}

// New builds a scope bound to handle over r, retiring through tracker.
func New(r *region.Region, tracker *reclaim.Tracker, h epoch.Handle) *Scope {
	return &Scope{r: r, tracker: tracker, handle: h}
}

// BeginOp stamps the scope with the current epoch and clears pending
// state, per spec §4.5.
func (s *Scope) BeginOp() uint64 {
	s.pending = s.pending[:0]
	s.retires = s.retires[:0]
	s.epoch = epoch.BeginOp(s.handle)
	return s.epoch
}

// BeginReadOnlyOp is BeginOp for a caller that will only issue OpenRead
// calls and close with EndReadOnlyOp. It exists as a separate name, not
// a separate implementation, so a reader matching this against
// pblk_naked.hpp's EpochHolder/EpochHolderReadOnly split finds the
// expected pair of entry points; nothing here actually needs the
// pending-list reset a write-capable BeginOp performs, since a
// read-only scope never populates one.
func (s *Scope) BeginReadOnlyOp() uint64 {
	return s.BeginOp()
}

// active panics with ErrProgrammerContract if the scope has no active
// transaction, implementing spec §7 category 5's fatal assertion.
func (s *Scope) active() {
	if epoch.StatusOf(s.handle) == epoch.StatusIdle {
		panic(fmt.Errorf("%w: handle %d", ErrProgrammerContract, s.handle.ID()))
	}
}

// CheckEpoch succeeds iff the scope's stamped epoch is still current.
// A caller whose check fails must AbortOp.
func (s *Scope) CheckEpoch() bool {
	return epoch.CheckEpoch(s.handle)
}

// OpenRead returns the version of the chain rooted at head that is live
// as of the scope's epoch, per C4's traversal contract. On an aborted
// scope it still returns a result (the "unsafe path"), since only
// writes from an aborted scope are no-ops.
func (s *Scope) OpenRead(head region.Ref) region.Ref {
	s.active()
	return pblk.LiveAt(s.r, head, s.epoch)
}

// OpenWrite allocates a new version of id chained from prev and records
// it as pending, per C4's new_version plus C5's openwrite_pblk. Writes
// issued by an aborted scope are no-ops and return a nil Ref.
func (s *Scope) OpenWrite(id uint64, typ pblk.Type, prev region.Ref, payload []byte) (region.Ref, error) {
	s.active()
	if epoch.StatusOf(s.handle) == epoch.StatusAborted {
		return region.NilRef, nil
	}

	ref, err := pblk.NewVersion(s.r, id, typ, s.epoch, prev, payload)
	if err != nil {
		return region.NilRef, err
	}
	s.pending = append(s.pending, pending{ref: ref, alloc: true})
	return ref, nil
}

// RegisterAlloc marks ref (already written via OpenWrite, or a plain
// allocation the caller made directly through the region) as allocated
// by this transaction, so it rolls back correctly on abort.
func (s *Scope) RegisterAlloc(ref region.Ref) {
	s.active()
	s.pending = append(s.pending, pending{ref: ref, alloc: true})
}

// Pretire adds ref to the scope's retire list at the scope's epoch.
func (s *Scope) Pretire(ref region.Ref) {
	s.active()
	s.retires = append(s.retires, retireEntry{ref: ref, epoch: s.epoch})
}

// Preclaim is an alias for Pretire: the source distinguishes the two
// only by caller intent (excise-for-space vs. logical delete), both
// resolve to the same retire-queue entry here.
func (s *Scope) Preclaim(ref region.Ref) { s.Pretire(ref) }

// AbortOp transitions the scope to ABORTED. The caller must still call
// EndOp to actually perform the rollback and return to IDLE.
func (s *Scope) AbortOp() {
	epoch.Abort(s.handle)
}

// EndOp commits or rolls back the scope's pending work and returns it
// to IDLE, per spec §4.5's end_op.
//
// Commit path: every pending ref is already flushed+fenced individually
// by OpenWrite (pblk.NewVersion does this); EndOp's job is to publish
// them (mark their slots durably live) and hand the retire list to C6.
// Abort path: every pending ref is freed unpublished, and retires are
// discarded (the chain they would have excised was never modified).
func (s *Scope) EndOp() {
	switch epoch.StatusOf(s.handle) {
	case epoch.StatusActive:
		for _, p := range s.pending {
			s.r.Commit(p.ref)
		}
		for _, rt := range s.retires {
			s.tracker.Retire(s.handle, rt.ref, rt.epoch)
		}
	case epoch.StatusAborted:
		for _, p := range s.pending {
			if p.alloc {
				s.r.Free(p.ref)
			}
		}
	}

	s.pending = s.pending[:0]
	s.retires = s.retires[:0]
	epoch.EndOp(s.handle)

	// spec §4.6: retired blocks are drained in batches, processed by
	// subsequent end_ops rather than by a dedicated background sweeper.
	// This is that subsequent end_op.
	s.tracker.Drain(s.handle)
}

// EndReadOnlyOp skips the publish work EndOp would do for pending
// writes (there are none, by the caller's contract: OpenWrite is never
// called from a read-only scope). It still hands any retires the scope
// picked up to the tracker — find's helping/excise of a logically
// deleted node it passed over can Pretire even on a pure Get, exactly
// as in the original findNode, so a read-only op is not "no side
// effects", only "no pending writes".
func (s *Scope) EndReadOnlyOp() {
	for _, rt := range s.retires {
		s.tracker.Retire(s.handle, rt.ref, rt.epoch)
	}
	s.retires = s.retires[:0]
	epoch.EndOp(s.handle)
	s.tracker.Drain(s.handle)
}

// Epoch returns the epoch the scope began its current transaction in.
func (s *Scope) Epoch() uint64 { return s.epoch }

// Handle returns the scope's underlying epoch handle.
func (s *Scope) Handle() epoch.Handle { return s.handle }

// DonateOnExit hands every block still queued on this scope's
// reclamation queue to the tracker's global queue, so a worker thread
// tearing down does not strand its retirements forever. The table
// facade calls this from Close/CloseThread, per C6's donate-on-exit
// contract.
func (s *Scope) DonateOnExit() {
	s.tracker.DonateOnExit(s.handle)
}
