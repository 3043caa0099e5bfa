// Package recovery implements C7: scanning every block the allocator
// facade (region) still considers live, grouping by logical PBlk
// identity, and picking the highest-epoch non-deleted version of each
// as the post-crash live set. Every other surviving block — losing
// versions and every version of a deleted id — is returned to the
// allocator.
//
// Grounded on PLockfreeHashTable.hpp's crash-recovery notes (a node's
// own id never changes across versions, and a logically-deleted node's
// mark bit is always flushed+fenced before retirement) plus spec §4.7's
// shard/merge algorithm, adapted from its worker-count parallelism
// (rec_threads) to a pool of goroutines over partitioned survivor
// shards.
package recovery

import (
	"sync"

	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/region"
)

// Live maps a PBlk logical id to the Ref of its highest-epoch
// non-deleted version.
type Live map[uint64]region.Ref

// Scan performs C7's recover: it partitions r's RecoverScan() output by
// PBlk id across recThreads workers, each of which groups its shard by id and
// keeps the highest-epoch ALLOC/UPDATE version (or drops the id
// entirely if that version is a DELETE); shards are then merged with
// the same higher-epoch-wins rule, and every losing or corrupt version
// is freed back to r.
//
// A block whose CRC32 no longer matches is treated as if it had never
// been written (spec §7 category 4): it is freed and never considered
// a candidate for the live set, letting the previous version in its
// chain (if any, and if it too survived) win instead.
func Scan(r *region.Region, recThreads int) Live {
	survivors := r.RecoverScan()
	if recThreads < 1 {
		recThreads = 1
	}

	// Every version of one id lands in the same shard, so groupShard
	// sees a DELETE together with the versions it supersedes.
	shards := make([][]region.Survivor, recThreads)
	for _, sv := range survivors {
		i := pblk.HeaderOf(r, sv.Ref).ID % uint64(recThreads)
		shards[i] = append(shards[i], sv)
	}

	partials := make([]Live, recThreads)
	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func(i int, shard []region.Survivor) {
			defer wg.Done()
			partials[i] = groupShard(r, shard)
		}(i, shard)
	}
	wg.Wait()

	live := make(Live)
	for _, partial := range partials {
		for id, ref := range partial {
			merge(r, live, id, ref)
		}
	}
	return live
}

// groupShard reduces one shard to its per-id winner, verifying each
// block's checksum and discarding (freeing) corrupt or superseded ones
// as it goes.
func groupShard(r *region.Region, shard []region.Survivor) Live {
	byID := make(map[uint64][]region.Ref)
	for _, sv := range shard {
		if !pblk.Verify(r, sv.Ref) {
			r.Free(sv.Ref)
			continue
		}
		h := pblk.HeaderOf(r, sv.Ref)
		byID[h.ID] = append(byID[h.ID], sv.Ref)
	}

	winners := make(Live)
	for id, refs := range byID {
		var best region.Ref
		var bestEpoch uint64
		bestIsLive := false

		for _, ref := range refs {
			h := pblk.HeaderOf(r, ref)
			if best.IsNil() || h.Epoch > bestEpoch || (h.Epoch == bestEpoch && ref > best) {
				if !best.IsNil() {
					r.Free(best)
				}
				best, bestEpoch = ref, h.Epoch
				bestIsLive = h.Type == pblk.TypeAlloc || h.Type == pblk.TypeUpdate
			} else {
				r.Free(ref)
			}
		}

		if bestIsLive {
			winners[id] = best
		} else {
			r.Free(best)
		}
	}
	return winners
}

// merge folds one shard's winner for id into the accumulated live set,
// applying the same higher-epoch-wins / deterministic-tiebreak rule
// groupShard used within a shard.
func merge(r *region.Region, live Live, id uint64, ref region.Ref) {
	existing, ok := live[id]
	if !ok {
		live[id] = ref
		return
	}

	he := pblk.HeaderOf(r, existing).Epoch
	hn := pblk.HeaderOf(r, ref).Epoch
	switch {
	case hn > he, hn == he && ref > existing:
		r.Free(existing)
		live[id] = ref
	default:
		r.Free(ref)
	}
}
