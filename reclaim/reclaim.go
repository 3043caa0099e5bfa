// Package reclaim implements the reclamation tracker (C6): deferred
// freeing of retired PM blocks once no thread can still observe them.
//
// This follows the idea behind gofaster's epoch.Trigger mechanism — a
// retired block waits until the epoch it was retired under is safe —
// but keeps plain (block, retire-epoch) queue entries instead of
// scheduling Trigger actions, and adds the spec's explicit reclaim gap
// (a retired block at retire-epoch r is only reclaimable once the
// current epoch is at least r+K) and its per-thread retire queue with
// donate-on-exit to a global queue, grounded on the
// PLockfreeHashTable.hpp retire() contract in original_source.
package reclaim

import (
	"sync"

	"github.com/zeebo/pmap/epoch"
	"github.com/zeebo/pmap/region"
)

// ReclaimBatch bounds how many blocks a single Drain call frees, per
// spec §4.6's RECLAIM_BATCH.
const ReclaimBatch = 1000

type retired struct {
	ref   region.Ref
	epoch uint64
}

// Tracker owns per-thread retire queues and the gap-gated drain that
// turns a retired block back into free allocator space.
type Tracker struct {
	r   *region.Region
	gap uint64

	mu     sync.Mutex
	queues map[uint32][]retired
	global []retired
}

// New builds a tracker over r with the given reclaim gap (spec's
// reclaim_gap, default 3, must be >= 2 so no live thread can still hold
// a stale pointer across the gap).
func New(r *region.Region, gap int) *Tracker {
	if gap < 2 {
		gap = 2
	}
	return &Tracker{
		r:      r,
		gap:    uint64(gap),
		queues: make(map[uint32][]retired),
	}
}

// Retire enqueues ref, stamped with the epoch it was retired under, on
// h's per-thread queue.
func (t *Tracker) Retire(h epoch.Handle, ref region.Ref, at uint64) {
	t.mu.Lock()
	t.queues[h.ID()] = append(t.queues[h.ID()], retired{ref: ref, epoch: at})
	t.mu.Unlock()
}

// Drain frees every block on h's queue (and, opportunistically, the
// global donated queue) whose retire-epoch is far enough behind the
// current epoch to guarantee no in-flight reader can still dereference
// it. It frees at most ReclaimBatch blocks per call.
func (t *Tracker) Drain(h epoch.Handle) {
	safe := epoch.Current()
	if safe < t.gap {
		return
	}
	threshold := safe - t.gap

	t.mu.Lock()
	own := t.queues[h.ID()]
	rest := own
	freed := 0
	i := 0
	for ; i < len(rest) && freed < ReclaimBatch; i++ {
		if rest[i].epoch > threshold {
			break
		}
		freed++
	}
	reclaimable := append([]retired(nil), rest[:i]...)
	t.queues[h.ID()] = append(own[:0], rest[i:]...)

	for j := 0; j < len(t.global) && freed < ReclaimBatch; {
		if t.global[j].epoch > threshold {
			j++
			continue
		}
		reclaimable = append(reclaimable, t.global[j])
		t.global = append(t.global[:j], t.global[j+1:]...)
		freed++
	}
	t.mu.Unlock()

	for _, rt := range reclaimable {
		t.r.Free(rt.ref)
	}
}

// DonateOnExit moves every block still queued for h onto the global
// queue, so a thread exiting does not strand its retirements forever.
func (t *Tracker) DonateOnExit(h epoch.Handle) {
	t.mu.Lock()
	t.global = append(t.global, t.queues[h.ID()]...)
	delete(t.queues, h.ID())
	t.mu.Unlock()
}

// Pending returns the number of blocks still queued, for diagnostics
// and tests.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.global)
	for _, q := range t.queues {
		n += len(q)
	}
	return n
}
