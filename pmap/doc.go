// Package pmap ties the epoch-based persistence runtime (epoch, region,
// pblk, txn, reclaim, recovery) together with the lock-free persistent
// hash map (htable) into the single facade described by the external
// interfaces: build a map over a persistent region, register worker
// threads, and call get/put/insert/remove/replace with durable
// linearizability.
//
// Build is the entry point; see htable.Build and htable.Config for the
// map's own documentation. This package exists to give the assembled
// system a home independent of any one internal layer, and to host the
// end-to-end scenario tests that exercise every layer together.
package pmap

import "github.com/zeebo/pmap/htable"

// Config is the facade's configuration object, re-exported from htable
// so callers need only import this one package.
type Config = htable.Config

// Table is the constructed map.
type Table = htable.Table

// Build constructs a Table from cfg, recovering any prior persisted
// state found at cfg.PersistPath.
func Build(cfg Config) (*Table, error) {
	return htable.Build(cfg)
}
