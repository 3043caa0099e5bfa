package htable

import (
	"bytes"
	"sort"

	"github.com/zeebo/pmap/pblk"
	"github.com/zeebo/pmap/recovery"
	"github.com/zeebo/pmap/region"
)

// rebuildBuckets layers htable's own recovery semantics on top of C7's
// generic scan: spec §3 notes the bucket table is transient and must be
// rebuilt entirely from the survivor set on restart, and that unlike a
// Field[T]'s version chain, a map node's id is never reused across
// put/insert/replace (each allocates a brand new id), so C7's per-id
// grouping alone cannot catch the one collision case specific to this
// structure: a crash landing between publishing a put's new node and
// marking the old one deleted, which can leave two distinct ids
// momentarily answering to the same key. That is resolved here by the
// same higher-epoch-wins rule C7 uses for id collisions.
func (t *Table) rebuildBuckets(live recovery.Live) {
	maxID := uint64(0)
	winners := make(map[string]region.Ref)

	for id, ref := range live {
		if id > maxID {
			maxID = id
		}

		if loadNext(t.region, ref).Marked() {
			// logically deleted before the crash; never became part of
			// the live key space, so it is simply freed.
			t.region.Free(ref)
			continue
		}

		key := string(nodeKey(t.region, ref))
		existing, ok := winners[key]
		if !ok {
			winners[key] = ref
			continue
		}

		if pblk.HeaderOf(t.region, ref).Epoch > pblk.HeaderOf(t.region, existing).Epoch {
			t.region.Free(existing)
			winners[key] = ref
		} else {
			t.region.Free(ref)
		}
	}
	t.nodeID = maxID + 1

	type bucketed struct {
		key []byte
		ref region.Ref
	}
	perBucket := make(map[uint64][]bucketed)
	for key, ref := range winners {
		kb := []byte(key)
		idx := bucketIndex(kb, t.cfg.Buckets)
		perBucket[idx] = append(perBucket[idx], bucketed{key: kb, ref: ref})
	}

	for idx, nodes := range perBucket {
		sort.Slice(nodes, func(i, j int) bool {
			return bytes.Compare(nodes[i].key, nodes[j].key) < 0
		})

		head := region.NilRef
		for i := len(nodes) - 1; i >= 0; i-- {
			storeNext(t.region, nodes[i].ref, head)
			head = nodes[i].ref
		}
		region.StoreRef(&t.buckets[idx], head)
	}
}
