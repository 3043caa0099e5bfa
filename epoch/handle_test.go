package epoch

import "testing"

func BenchmarkHandle(b *testing.B) {
	b.ReportAllocs()

	b.Run("BeginOp+EndOp", func(b *testing.B) {
		h := NewHandle(0)
		for i := 0; i < b.N; i++ {
			BeginOp(h)
			EndOp(h)
		}
	})

	b.Run("BeginOp+EndOp Parallel", func(b *testing.B) {
		b.RunParallel(func(pb *testing.PB) {
			tid := 0
			h := NewHandle(tid)
			for pb.Next() {
				BeginOp(h)
				EndOp(h)
			}
		})
	})
}
