package htable

import "fmt"

// Config is the facade's configuration object (spec §6): every
// parameter the core consumes, validated once at Build.
type Config struct {
	TaskNum          int
	PersistPath      string
	PersistSizeBytes int64
	EpochWindow      int
	ReclaimGap       int
	Buckets          uint64
	RecoveryWorkers  int
}

// Validate checks Config's invariants and fills in defaults for any
// zero-valued field that has one (spec §6: epoch_window default 150,
// reclaim_gap default 3).
func (c *Config) Validate() error {
	if c.TaskNum < 1 {
		return fmt.Errorf("htable: task_num must be >= 1, got %d", c.TaskNum)
	}
	if c.PersistPath == "" {
		return fmt.Errorf("htable: persist_path must be set")
	}
	if c.PersistSizeBytes <= 0 {
		return fmt.Errorf("htable: persist_size_bytes must be > 0, got %d", c.PersistSizeBytes)
	}
	if c.EpochWindow == 0 {
		c.EpochWindow = 150
	}
	if c.ReclaimGap == 0 {
		c.ReclaimGap = 3
	}
	if c.ReclaimGap < 2 {
		return fmt.Errorf("htable: reclaim_gap must be >= 2, got %d", c.ReclaimGap)
	}
	if c.Buckets == 0 {
		c.Buckets = defaultBuckets
	}
	if c.RecoveryWorkers < 1 {
		c.RecoveryWorkers = c.TaskNum
	}
	return nil
}
