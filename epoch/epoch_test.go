package epoch

import "testing"

func TestBeginEndOp(t *testing.T) {
	h := NewHandle(0)

	if StatusOf(h) != StatusIdle {
		t.Fatal("fresh handle should be idle")
	}

	ui := BeginOp(h)
	if ui != Current() {
		t.Fatalf("BeginOp stamped %d, current is %d", ui, Current())
	}
	if StatusOf(h) != StatusActive {
		t.Fatal("handle should be active after BeginOp")
	}
	if !CheckEpoch(h) {
		t.Fatal("CheckEpoch should succeed with no intervening advance")
	}

	EndOp(h)
	if StatusOf(h) != StatusIdle {
		t.Fatal("handle should be idle after EndOp")
	}
	if UI(h) != NullEpoch {
		t.Fatal("ui should be cleared after EndOp")
	}
}

func TestAdvanceEpochBlockedByActiveThread(t *testing.T) {
	h1 := NewHandle(1)
	h2 := NewHandle(2)

	BeginOp(h1)
	defer EndOp(h1)
	Bump() // h1 is now active at an epoch older than the current one

	before := Current()
	if _, ok := AdvanceEpoch(); ok {
		t.Fatal("advance should be blocked while h1 is active at an older epoch")
	}
	if Current() != before {
		t.Fatal("blocked advance must not move the epoch")
	}

	EndOp(h1)

	BeginOp(h2)
	defer EndOp(h2)
	if _, ok := AdvanceEpoch(); !ok {
		t.Fatal("advance should succeed once no thread is stuck on the old epoch")
	}
}

func TestAbort(t *testing.T) {
	h := NewHandle(3)
	BeginOp(h)
	Abort(h)
	if StatusOf(h) != StatusAborted {
		t.Fatal("Abort should move status to aborted")
	}
	EndOp(h)
	if StatusOf(h) != StatusIdle {
		t.Fatal("EndOp should still return an aborted handle to idle")
	}
}

func BenchmarkEpoch(b *testing.B) {
	b.Run("BeginOp+EndOp", func(b *testing.B) {
		h := NewHandle(0)

		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			BeginOp(h)
			EndOp(h)
		}
	})

	b.Run("BeginOp+EndOp Parallel", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()

		tid := 0
		b.RunParallel(func(pb *testing.PB) {
			h := NewHandle(tid)
			tid++
			for pb.Next() {
				BeginOp(h)
				EndOp(h)
			}
		})
	})
}
