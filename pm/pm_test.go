package pm

import (
	"testing"
	"unsafe"
)

func TestFlushRange(t *testing.T) {
	buf := make([]byte, 256)
	// should not panic across several cache lines, including an
	// unaligned start and end.
	FlushRange(unsafe.Pointer(&buf[3]), 200)
	Fence()
}

func BenchmarkFence(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Fence()
	}
}
