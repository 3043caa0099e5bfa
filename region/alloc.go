package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/pmap/internal/risky"
	"github.com/zeebo/pmap/pm"
)

// classSizes are the fixed size classes the allocator hands out. A
// request is rounded up to the smallest class that fits it. This trades
// some internal fragmentation for a crash-consistency story that needs
// no free-space bitmap beyond one liveness byte per slot.
var classSizes = [...]uint64{64, 128, 256, 512, 1024, 2048, 4096, 8192}

const numClasses = len(classSizes)

func align8(v uint64) uint64 { return (v + 7) &^ 7 }

type class struct {
	slotSize   uint64
	capacity   uint64
	metaOffset uint64 // one liveness byte per slot
	dataOffset uint64 // start of slot 0's data

	cursor uint64 // next never-yet-used slot index (atomic, monotonic)

	mu   sync.Mutex
	free []uint64 // volatile stack of freed slot indices available for reuse
}

// allocator is the PM allocator facade (spec §4.2): palloc/pfree backed
// by fixed size classes with a persisted per-slot liveness byte. It has
// no persisted free list — freed-before-crash slots are rediscovered at
// recoverInit by scanning liveness bytes, but slots freed *during* a run
// are tracked only in the volatile free stack, which is an acceptable
// "lose some reuse, never lose safety" simplification (see DESIGN.md).
type allocator struct {
	classes [numClasses]class
}

func (a *allocator) init(r *Region, start uintptr) {
	remaining := uint64(r.size) - uint64(start)
	span := remaining / uint64(numClasses)
	base := align8(uint64(start))

	for i, sz := range classSizes {
		capacity := span / (sz + 1)
		meta := base
		data := align8(meta + capacity)
		a.classes[i] = class{
			slotSize:   sz,
			capacity:   capacity,
			metaOffset: meta,
			dataOffset: data,
		}
		base += span
	}
}

// recoverInit lays out classes identically to init (the layout is a pure
// function of region size) and then rebuilds each class's cursor and
// volatile free stack from the persisted liveness bytes.
func (a *allocator) recoverInit(r *Region, start uintptr) {
	a.init(r, start)
	for i := range a.classes {
		c := &a.classes[i]
		meta := r.sliceAt(c.metaOffset, c.capacity)

		highest := uint64(0)
		used := false
		for idx := uint64(0); idx < c.capacity; idx++ {
			if meta[idx] != 0 {
				highest, used = idx, true
			}
		}
		cursor := uint64(0)
		if used {
			cursor = highest + 1
		}
		atomic.StoreUint64(&c.cursor, cursor)

		for idx := uint64(0); idx < cursor; idx++ {
			if meta[idx] == 0 {
				c.free = append(c.free, idx)
			}
		}
	}
}

func (r *Region) sliceAt(offset, length uint64) []byte {
	return risky.Slice(risky.Add(r.Base(), uintptr(offset)), int(length))
}

// alloc reserves a slot from the smallest size class that fits n bytes
// and returns its Ref and data pointer. The slot is NOT marked live: the
// caller (pblk.NewVersion via a transaction scope) must write and flush
// its contents and then call Region.Commit before the slot will survive
// a crash and be reported by RecoverScan. A crash between alloc and
// Commit simply wastes the slot — "no effect" as far as recovered state
// is concerned, which is what the allocator facade's contract requires.
func (a *allocator) alloc(r *Region, n int) (Ref, unsafe.Pointer, error) {
	for i := range a.classes {
		c := &a.classes[i]
		if c.slotSize < uint64(n) {
			continue
		}

		idx, ok := c.popFree()
		if !ok {
			idx = atomic.AddUint64(&c.cursor, 1) - 1
			if idx >= c.capacity {
				continue
			}
		}

		offset := c.dataOffset + idx*c.slotSize
		return NewRef(offset), risky.Add(r.Base(), uintptr(offset)), nil
	}
	return NilRef, nil, ErrAllocExhausted
}

func (c *class) popFree() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.free) == 0 {
		return 0, false
	}
	idx := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	return idx, true
}

func (a *allocator) classFor(offset uint64) (*class, uint64) {
	for i := range a.classes {
		c := &a.classes[i]
		if offset < c.dataOffset {
			continue
		}
		span := offset - c.dataOffset
		idx := span / c.slotSize
		if idx < c.capacity && c.dataOffset+idx*c.slotSize == offset {
			return c, idx
		}
	}
	return nil, 0
}

func (a *allocator) liveByte(r *Region, c *class, idx uint64) *byte {
	return &r.sliceAt(c.metaOffset, c.capacity)[idx]
}

// commit marks ref's slot durably live: after this call returns,
// RecoverScan will report it. It must only be called once the block's
// own contents have already been flushed and fenced.
func (a *allocator) commit(r *Region, ref Ref) {
	c, idx := a.classFor(ref.Offset())
	if c == nil {
		return
	}
	p := a.liveByte(r, c, idx)
	*p = 1
	pm.Flush(unsafe.Pointer(p))
	pm.Fence()
}

// free marks ref's slot durably dead and returns its index to the
// class's volatile free stack for reuse.
func (a *allocator) free(r *Region, ref Ref) {
	if ref.IsNil() {
		return
	}
	c, idx := a.classFor(ref.Offset())
	if c == nil {
		return
	}
	p := a.liveByte(r, c, idx)
	*p = 0
	pm.Flush(unsafe.Pointer(p))
	pm.Fence()

	c.mu.Lock()
	c.free = append(c.free, idx)
	c.mu.Unlock()
}

func (a *allocator) recoverScan(r *Region) []Survivor {
	var out []Survivor
	for i := range a.classes {
		c := &a.classes[i]
		cursor := atomic.LoadUint64(&c.cursor)
		meta := r.sliceAt(c.metaOffset, c.capacity)
		for idx := uint64(0); idx < cursor; idx++ {
			if meta[idx] == 0 {
				continue
			}
			offset := c.dataOffset + idx*c.slotSize
			out = append(out, Survivor{Ref: NewRef(offset), Size: int(c.slotSize)})
		}
	}
	return out
}

// Commit durably publishes ref's slot so it survives a crash. See
// allocator.commit.
func (r *Region) Commit(ref Ref) { r.alloc.commit(r, ref) }
