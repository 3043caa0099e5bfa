// Package pm provides the three PM ordering primitives the rest of the
// runtime builds on: Flush, FlushRange and Fence.
//
// Go gives no portable access to CLWB/CLFLUSHOPT and SFENCE, so this
// package takes the substitution the specification explicitly allows:
// "Implementations lacking true PM may substitute cache-line-writeback
// + full store fence; correctness semantics remain." A flush touches
// (loads) the cache line so it is not silently elided by the compiler,
// and Fence performs a sequentially consistent atomic operation, which
// on every architecture Go supports implies a full memory barrier.
package pm

import (
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/pmap/internal/machine"
)

var fenceCounter uint64

// Flush schedules the cache line containing addr to be written back.
// It does not order with other stores; call Fence afterward to make the
// flush durable before any subsequent store is allowed to become durable.
func Flush(addr unsafe.Pointer) {
	flushLine(addr)
}

// FlushRange flushes every cache line intersecting [addr, addr+len).
func FlushRange(addr unsafe.Pointer, length uintptr) {
	if length == 0 {
		return
	}
	const line = uintptr(machine.CacheLine)
	start := uintptr(addr) &^ (line - 1)
	end := uintptr(addr) + length
	for p := start; p < end; p += line {
		flushLine(unsafe.Pointer(p))
	}
}

// Fence is a store barrier: every flush issued before Fence returns is
// ordered before any store issued after it is allowed to become durable.
func Fence() {
	// AddUint64 is a read-modify-write on a sequentially consistent atomic
	// location, which is a full barrier on every arch the Go runtime
	// targets. The counter's value is never read back; it exists only to
	// give the barrier somewhere to operate.
	atomic.AddUint64(&fenceCounter, 1)
}

func flushLine(addr unsafe.Pointer) {
	aligned := unsafe.Pointer(uintptr(addr) &^ (machine.CacheLine - 1))
	atomic.LoadUint64((*uint64)(aligned))
}
