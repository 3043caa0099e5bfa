package htable

import "github.com/cespare/xxhash"

// defaultBuckets is spec §3's example bucket-table size, a prime chosen
// to spread xxhash's output without a multiply-by-constant step.
const defaultBuckets = 1000003

// bucketIndex picks key's home bucket using xxhash, the primary hash
// the rest of the pack reaches for (cespare/xxhash, already the
// teacher's choice in its now-removed table.go).
func bucketIndex(key []byte, numBuckets uint64) uint64 {
	return xxhash.Sum64(key) % numBuckets
}
