// Package region implements the PM allocator facade (spec §4.2, §4.9):
// a file-backed, mmap'd byte range addressed by self-relative offsets
// (Ref) that survive process restart, with a small set of fixed size
// classes handed out by Alloc/Free, and a RecoverScan that enumerates
// every block still live in the backing file.
package region

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zeebo/pmap/internal/risky"
	"github.com/zeebo/pmap/pm"
)

// Region is a single mmap'd persistent region.
type Region struct {
	file *os.File
	data []byte
	size int64

	hdr   *header
	alloc allocator
}

// Open opens (creating if necessary) the region backed by path, mapping
// size bytes. On first creation the header is initialized fresh; on a
// pre-existing file the header is validated against the current format.
//
// This mirrors the vmware-archive go-redis-pmem and go-pmem-transaction
// examples' "magic + uuid/size check, else initialize" startup sequence,
// using golang.org/x/sys/unix for the mmap call in place of their raw
// syscall.Mmap / cgo PM runtime.
func Open(path string, size int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: stat %s: %w", path, err)
	}
	isNew := info.Size() == 0
	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("region: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: mmap %s: %w", path, err)
	}

	r := &Region{
		file: f,
		data: data,
		size: size,
		hdr:  (*header)(unsafe.Pointer(&data[0])),
	}

	if isNew {
		r.hdr.init()
		pm.FlushRange(unsafe.Pointer(r.hdr), headerSize)
		pm.Fence()
		r.alloc.init(r, uintptr(headerSize))
	} else {
		if err := r.hdr.validate(); err != nil {
			unix.Munmap(data)
			f.Close()
			return nil, err
		}
		r.alloc.recoverInit(r, uintptr(headerSize))
	}

	return r, nil
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	return r.file.Close()
}

// Sync flushes the mapping to the backing file (msync). The PM model
// treats this as the durability boundary a real PM deployment gets for
// free from cache-line flush + fence; file-backed emulation needs it to
// actually persist across a process restart used to test recovery.
func (r *Region) Sync() error {
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Base returns the mapping's base address; Refs are offsets from here.
func (r *Region) Base() unsafe.Pointer { return unsafe.Pointer(&r.data[0]) }

// Size returns the mapped region size in bytes.
func (r *Region) Size() int64 { return r.size }

// Pointer resolves ref to an address inside the mapping. It panics (a
// programmer-contract violation, spec §7 category 5) if ref is nil.
func (r *Region) Pointer(ref Ref) unsafe.Pointer {
	if ref.IsNil() {
		log.Panic("region: dereference of nil Ref")
	}
	return risky.Add(r.Base(), uintptr(ref.Offset()))
}

// Epoch returns the last epoch persisted into the region header.
func (r *Region) Epoch() uint64 { return atomic.LoadUint64(&r.hdr.epoch) }

// SetEpoch durably records the current epoch into the region header.
func (r *Region) SetEpoch(e uint64) {
	atomic.StoreUint64(&r.hdr.epoch, e)
	pm.Flush(unsafe.Pointer(&r.hdr.epoch))
	pm.Fence()
}

// Root returns the allocator-relative offset of the application root
// block (e.g. the recovered hash map), or 0 if none has been set.
func (r *Region) Root() uint64 { return atomic.LoadUint64(&r.hdr.root) }

// SetRoot durably records the application root offset.
func (r *Region) SetRoot(offset uint64) {
	atomic.StoreUint64(&r.hdr.root, offset)
	pm.Flush(unsafe.Pointer(&r.hdr.root))
	pm.Fence()
}

// Alloc reserves a block of at least n bytes and returns its Ref and a
// pointer to its first byte. See allocator.alloc for the size-class and
// crash-consistency discussion.
func (r *Region) Alloc(n int) (Ref, unsafe.Pointer, error) {
	return r.alloc.alloc(r, n)
}

// Free returns ref's block to the allocator's bookkeeping. See
// allocator.free.
func (r *Region) Free(ref Ref) {
	r.alloc.free(r, ref)
}

// Survivor is one block reported live by RecoverScan.
type Survivor struct {
	Ref  Ref
	Size int
}

// RecoverScan yields every block the allocator currently considers live,
// across every size class, in no particular order. It implements the PM
// allocator facade's recover_scan contract (spec §4.2).
func (r *Region) RecoverScan() []Survivor {
	return r.alloc.recoverScan(r)
}
