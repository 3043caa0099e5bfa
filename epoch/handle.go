package epoch

import "github.com/zeebo/pmap/internal/machine"

// Handle identifies a worker thread. Unlike gofaster's AcquireHandle pool
// (which hands out ids from a free counter), thread identity here is the
// facade's own tid (spec §6 init_thread(tid)), passed explicitly on every
// call rather than stashed in thread-local storage (Design Notes §9).
type Handle struct {
	id uint32
}

// NewHandle wraps a facade thread id (0 <= tid < task_num) as a Handle.
func NewHandle(tid int) Handle {
	return Handle{id: uint32(tid)}
}

// ID returns the underlying thread id.
func (h Handle) ID() uint32 { return h.id }

func (h Handle) slot() uint32 { return h.id % machine.MaxThreads }
