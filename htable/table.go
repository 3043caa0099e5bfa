// Package htable implements the lock-free persistent hash map (C8):
// a fixed-size volatile bucket array of Harris-Michael ordered linked
// lists, built over the epoch/region/pblk/txn/reclaim/recovery layers.
//
// Grounded directly on original_source/rideables/PLockfreeHashTable.hpp
// for findNode/get/put/insert/remove/replace's control flow, translated
// from its raw MarkPtr<Node> CAS loop to region.Ref's packed mark bit
// and epoch.Handle-scoped txn.Scope transactions.
package htable

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/pmap/epoch"
	"github.com/zeebo/pmap/internal/machine"
	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/pm"
	"github.com/zeebo/pmap/reclaim"
	"github.com/zeebo/pmap/recovery"
	"github.com/zeebo/pmap/region"
	"github.com/zeebo/pmap/txn"
)

// publishFence flushes and fences the publishing cell at addr, per
// spec §4.8's "publish by CAS → flush publishing cell → fence" tail of
// the persistence ordering sequence. Called after every successful
// publishing CAS, whether addr is a node's own next field (PM-resident)
// or a bucket head (the volatile array rebuilt on recovery) — flushing
// the latter is harmless, and find's prevAddr can be either.
func publishFence(addr *uint64) {
	pm.Flush(unsafe.Pointer(addr))
	pm.Fence()
}

// Table is the facade's concrete Rideable: the narrow capability set
// {get, put, insert, remove, replace, init_thread} Design Note §9 calls
// for, with no runtime polymorphism inside the hot path.
type Table struct {
	cfg     Config
	region  *region.Region
	tracker *reclaim.Tracker

	buckets []uint64 // len == cfg.Buckets, each an atomic packed region.Ref

	nodeID  uint64
	commits uint64

	scopes [machine.MaxThreads]*txn.Scope
}

// Build constructs the map from cfg, opening (or recovering) its
// persistent region and rebuilding the volatile bucket array from the
// survivor set C7 returns, per spec §6's build(config).
func Build(cfg Config) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r, err := region.Open(cfg.PersistPath, cfg.PersistSizeBytes)
	if err != nil {
		return nil, err
	}

	t := &Table{
		cfg:     cfg,
		region:  r,
		tracker: reclaim.New(r, cfg.ReclaimGap),
		buckets: make([]uint64, cfg.Buckets),
	}

	live := recovery.Scan(r, cfg.RecoveryWorkers)
	t.rebuildBuckets(live)
	return t, nil
}

// InitThread registers worker tid (spec §6's init_thread), binding its
// epoch handle and transaction scope. tid must satisfy 0 <= tid <
// config.TaskNum.
func (t *Table) InitThread(tid int) error {
	if tid < 0 || tid >= t.cfg.TaskNum {
		return fmt.Errorf("htable: tid %d out of range [0, %d)", tid, t.cfg.TaskNum)
	}
	h := epoch.NewHandle(tid)
	t.scopes[h.ID()%machine.MaxThreads] = txn.New(t.region, t.tracker, h)
	return nil
}

func (t *Table) scope(tid int) *txn.Scope {
	return t.scopes[uint32(tid)%machine.MaxThreads]
}

func (t *Table) bucketHead(key []byte) *uint64 {
	idx := bucketIndex(key, t.cfg.Buckets)
	return &t.buckets[idx]
}

func (t *Table) freshID() uint64 {
	return atomic.AddUint64(&t.nodeID, 1)
}

// maybeAdvance lazily advances the global epoch every EpochWindow
// commits, per spec §4.3.
func (t *Table) maybeAdvance() {
	if atomic.AddUint64(&t.commits, 1)%uint64(t.cfg.EpochWindow) == 0 {
		epoch.AdvanceEpoch()
	}
}

// find implements spec §4.8's private find(key): it walks headAddr's
// chain, excising and retiring any logically-deleted node it passes
// through, and stops as soon as it reaches a node whose key is >= key.
// It returns the address from which curr was loaded (either headAddr
// itself or a prior node's next field) and curr's Ref, stripped of its
// mark bit; found reports whether curr's key equals key exactly.
func (t *Table) find(s *txn.Scope, headAddr *uint64, key []byte) (prevAddr *uint64, curr region.Ref, found bool) {
retry:
	prevAddr = headAddr
	curr = region.LoadRef(prevAddr).WithoutMark()

	for {
		if curr.IsNil() {
			return prevAddr, region.NilRef, false
		}

		rawNext := loadNext(t.region, curr)
		next := rawNext.WithoutMark()

		if region.LoadRef(prevAddr).WithoutMark() != curr {
			goto retry
		}

		if rawNext.Marked() {
			if !region.CASRef(prevAddr, curr, next) {
				goto retry
			}
			s.Pretire(curr)
			curr = next
			continue
		}

		ckey := nodeKey(t.region, curr)
		switch bytes.Compare(ckey, key) {
		case 0:
			return prevAddr, curr, true
		case 1:
			return prevAddr, curr, false
		}

		prevAddr = nodeNextPtr(t.region, curr)
		curr = next
	}
}

// Get returns the value stored for key, if any.
func (t *Table) Get(key string, tid int) (string, bool) {
	s := t.scope(tid)
	kb := []byte(key)

	s.BeginReadOnlyOp()
	_, curr, found := t.find(s, t.bucketHead(kb), kb)
	var val string
	if found {
		val = string(nodeVal(t.region, curr))
	}
	s.EndReadOnlyOp()
	return val, found
}

func (t *Table) newNode(s *txn.Scope, key, val []byte, next region.Ref) (region.Ref, error) {
	return s.OpenWrite(t.freshID(), pblk.TypeAlloc, region.NilRef, encodeNode(next, key, val))
}

// Insert adds key/val if key is absent, returning false without effect
// if it is already present.
func (t *Table) Insert(key, val string, tid int) (bool, error) {
	s := t.scope(tid)
	kb, vb := []byte(key), []byte(val)

	for {
		s.BeginOp()
		head := t.bucketHead(kb)
		prevAddr, _, found := t.find(s, head, kb)
		if found {
			s.EndOp()
			return false, nil
		}

		if !s.CheckEpoch() {
			// spec §4.5/§7 category 2: the epoch moved on while find was
			// walking, so curr/prevAddr may reference a block reclaim
			// already freed. Abort and retry under a fresh epoch.
			s.AbortOp()
			s.EndOp()
			continue
		}

		next := region.LoadRef(prevAddr).WithoutMark()
		newRef, err := t.newNode(s, kb, vb, next)
		if err != nil {
			s.AbortOp()
			s.EndOp()
			return false, err
		}

		if !region.CASRef(prevAddr, next, newRef) {
			s.AbortOp()
			s.EndOp()
			continue
		}
		publishFence(prevAddr)

		t.maybeAdvance()
		s.EndOp()
		return true, nil
	}
}

// Put writes key/val unconditionally, returning the prior value if key
// was already present.
func (t *Table) Put(key, val string, tid int) (string, bool, error) {
	s := t.scope(tid)
	kb, vb := []byte(key), []byte(val)

	for {
		s.BeginOp()
		head := t.bucketHead(kb)
		prevAddr, curr, found := t.find(s, head, kb)

		if !s.CheckEpoch() {
			s.AbortOp()
			s.EndOp()
			continue
		}

		if !found {
			next := region.LoadRef(prevAddr).WithoutMark()
			newRef, err := t.newNode(s, kb, vb, next)
			if err != nil {
				s.AbortOp()
				s.EndOp()
				return "", false, err
			}
			if !region.CASRef(prevAddr, next, newRef) {
				s.AbortOp()
				s.EndOp()
				continue
			}
			publishFence(prevAddr)
			t.maybeAdvance()
			s.EndOp()
			return "", false, nil
		}

		prior := string(nodeVal(t.region, curr))
		rawNext := loadNext(t.region, curr)
		newRef, err := t.newNode(s, kb, vb, curr)
		if err != nil {
			s.AbortOp()
			s.EndOp()
			return "", false, err
		}

		// link new node before curr
		if !region.CASRef(prevAddr, curr, newRef) {
			s.AbortOp()
			s.EndOp()
			continue
		}
		publishFence(prevAddr)

		// logically delete curr, then excise it
		if !casNext(t.region, curr, rawNext, rawNext.WithMark()) {
			// another thread is racing the same excise; find will clean it
			// up on the next pass, nothing further to do here.
		} else {
			publishFence(nodeNextPtr(t.region, curr))
			if region.CASRef(nodeNextPtr(t.region, newRef), curr, rawNext.WithoutMark()) {
				publishFence(nodeNextPtr(t.region, newRef))
				s.Pretire(curr)
			}
		}

		t.maybeAdvance()
		s.EndOp()
		return prior, true, nil
	}
}

// Remove deletes key, returning its prior value if present.
func (t *Table) Remove(key string, tid int) (string, bool, error) {
	s := t.scope(tid)
	kb := []byte(key)

	for {
		s.BeginOp()
		head := t.bucketHead(kb)
		prevAddr, curr, found := t.find(s, head, kb)
		if !found {
			s.EndOp()
			return "", false, nil
		}

		if !s.CheckEpoch() {
			s.AbortOp()
			s.EndOp()
			continue
		}

		rawNext := loadNext(t.region, curr)
		next := rawNext.WithoutMark()
		if rawNext.Marked() {
			// someone beat us to it
			s.EndOp()
			continue
		}

		if !casNext(t.region, curr, next, next.WithMark()) {
			s.EndOp()
			continue
		}
		publishFence(nodeNextPtr(t.region, curr))

		val := string(nodeVal(t.region, curr))

		if region.CASRef(prevAddr, curr, next) {
			publishFence(prevAddr)
			s.Pretire(curr)
		}

		t.maybeAdvance()
		s.EndOp()
		return val, true, nil
	}
}

// Replace overwrites key's value only if key is already present,
// returning the prior value; it never inserts.
func (t *Table) Replace(key, val string, tid int) (string, bool, error) {
	s := t.scope(tid)
	kb, vb := []byte(key), []byte(val)

	for {
		s.BeginOp()
		head := t.bucketHead(kb)
		prevAddr, curr, found := t.find(s, head, kb)
		if !found {
			s.EndOp()
			return "", false, nil
		}

		if !s.CheckEpoch() {
			s.AbortOp()
			s.EndOp()
			continue
		}

		prior := string(nodeVal(t.region, curr))
		rawNext := loadNext(t.region, curr)
		newRef, err := t.newNode(s, kb, vb, curr)
		if err != nil {
			s.AbortOp()
			s.EndOp()
			return "", false, err
		}

		if !region.CASRef(prevAddr, curr, newRef) {
			s.AbortOp()
			s.EndOp()
			continue
		}
		publishFence(prevAddr)

		if casNext(t.region, curr, rawNext, rawNext.WithMark()) {
			publishFence(nodeNextPtr(t.region, curr))
			if region.CASRef(nodeNextPtr(t.region, newRef), curr, rawNext.WithoutMark()) {
				publishFence(nodeNextPtr(t.region, newRef))
				s.Pretire(curr)
			}
		}

		t.maybeAdvance()
		s.EndOp()
		return prior, true, nil
	}
}

// CloseThread unregisters tid, donating anything still queued on its
// reclamation queue to the tracker's global queue (C6's donate-on-exit)
// so a departing worker's retirements are not stranded forever.
func (t *Table) CloseThread(tid int) {
	if s := t.scope(tid); s != nil {
		s.DonateOnExit()
	}
}

// Close donates every still-registered thread's reclamation queue and
// releases the underlying region.
func (t *Table) Close() error {
	for tid := 0; tid < t.cfg.TaskNum; tid++ {
		t.CloseThread(tid)
	}
	return t.region.Close()
}
