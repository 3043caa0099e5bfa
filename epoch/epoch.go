// Package epoch implements the epoch clock and per-thread state (spec
// §4.3) together with a deferred-trigger mechanism (Trigger, BumpWith)
// that runs an action once the epoch it was scheduled under is safe.
//
// This is a close adaptation of gofaster/epoch: the global current/safe
// epoch pair, the per-thread entry array and the Trigger-based deferred
// action queue are kept almost verbatim. What changes is the meaning of
// an entry's "local" field: gofaster uses it purely to pin a thread
// against the garbage collector; here it doubles as the transaction
// scope's `ui` (spec §3's per-thread epoch record), and each entry now
// also carries the ACTIVE/ABORTED/IDLE status spec §4.5's state machine
// requires, so AdvanceEpoch can perform the "bounded" check spec §4.3
// demands instead of just taking the oldest protected epoch on faith.
package epoch

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/zeebo/pmap/internal/machine"
)

// NullEpoch is the sentinel meaning "no active transaction" (spec §3).
const NullEpoch uint64 = 0

// Status is a transaction scope's state, per the spec §4.5 state machine.
type Status uint32

const (
	StatusIdle Status = iota
	StatusActive
	StatusAborted
)

const triggerSlots = 256

var epochData struct {
	current uint64
	_       machine.Pad56

	safe uint64
	_    machine.Pad56

	entries [machine.MaxThreads]entry

	triggerCount uint64
	_            machine.Pad56
	triggers     [triggerSlots]Trigger
}

type entry struct {
	ui     uint64
	status uint32
	_      machine.Pad52
}

func init() {
	epochData.current = 1
	for i := range &epochData.triggers {
		epochData.triggers[i].epoch = triggerFree
	}
}

func getEntry(h Handle) *entry {
	return &epochData.entries[h.slot()]
}

// Current returns the global epoch.
func Current() uint64 {
	return atomic.LoadUint64(&epochData.current)
}

// BeginOp stamps h's entry with the current epoch and marks it ACTIVE,
// per spec §4.5's begin_op. It returns the stamped epoch.
func BeginOp(h Handle) uint64 {
	e := getEntry(h)
	ui := atomic.LoadUint64(&epochData.current)
	atomic.StoreUint64(&e.ui, ui)
	atomic.StoreUint32(&e.status, uint32(StatusActive))
	return ui
}

// UI returns h's currently stamped epoch (NullEpoch if none).
func UI(h Handle) uint64 {
	return atomic.LoadUint64(&getEntry(h).ui)
}

// StatusOf returns h's current status.
func StatusOf(h Handle) Status {
	return Status(atomic.LoadUint32(&getEntry(h).status))
}

// Abort transitions h from ACTIVE to ABORTED.
func Abort(h Handle) {
	atomic.StoreUint32(&getEntry(h).status, uint32(StatusAborted))
}

// CheckEpoch succeeds iff h's stamped epoch is still the current one.
// A caller whose check fails must abort its transaction (spec §4.3).
func CheckEpoch(h Handle) bool {
	return UI(h) == Current()
}

// EndOp releases h's protection and returns it to IDLE, draining any
// triggers that became safe to run as a result. It does not decide
// commit vs. rollback — that is the transaction scope's job (txn
// package) — it only performs the underlying "leave the epoch" step
// shared by both outcomes.
func EndOp(h Handle) {
	e := getEntry(h)
	epoch := atomic.LoadUint64(&e.ui)
	atomic.StoreUint32(&e.status, uint32(StatusIdle))
	atomic.StoreUint64(&e.ui, NullEpoch)
	if atomic.LoadUint64(&epochData.triggerCount) > 0 {
		Drain(epoch)
	}
}

// AdvanceEpoch performs spec §4.3's bounded advance: the global epoch
// moves forward only if every ACTIVE thread has already observed it,
// i.e. no thread could straddle the boundary unaware.
func AdvanceEpoch() (uint64, bool) {
	current := Current()
	for i := range &epochData.entries {
		e := &epochData.entries[i]
		if Status(atomic.LoadUint32(&e.status)) == StatusActive &&
			atomic.LoadUint64(&e.ui) != current {
			return current, false
		}
	}
	return Bump(), true
}

// Drain runs any triggers that are safe to run given epoch as a lower
// bound for the safe-epoch computation.
func Drain(epoch uint64) {
	ComputeSafe(epoch)

	for i := range &epochData.triggers {
		trigger := &epochData.triggers[i]
		tepoch := trigger.Epoch()
		safe := atomic.LoadUint64(&epochData.safe)

		if tepoch <= safe &&
			trigger.Run(tepoch) &&
			atomic.AddUint64(&epochData.triggerCount, ^uint64(0)) == 0 {
			break
		}
	}
}

// Bump increments the global epoch, draining any triggers that can now run.
func Bump() uint64 {
	epoch := atomic.AddUint64(&epochData.current, 1)
	if atomic.LoadUint64(&epochData.triggerCount) > 0 {
		Drain(epoch)
	}
	return epoch
}

// BumpWith increments the global epoch and schedules action to run once
// the epoch it was added under becomes safe. C6's reclamation tracker
// (reclaim.Tracker) does not call this — it gates its own Drain
// directly off epoch.Current() and an explicit reclaim gap instead of
// scheduling a Trigger action — and nothing else in this tree calls
// BumpWith either; epoch/trigger_test.go exercises the Trigger slots
// directly.
func BumpWith(action func()) uint64 {
	prior := Bump() - 1
	failures := 0

finished:
	for {
		for i := range &epochData.triggers {
			trigger := &epochData.triggers[i]
			tepoch := trigger.Epoch()

			if tepoch == triggerFree && trigger.Store(tepoch, action) {
				break finished
			}

			safe := atomic.LoadUint64(&epochData.safe)
			if tepoch <= safe && trigger.Swap(tepoch, prior, action) {
				break finished
			}
		}

		failures++
		if failures == 500 {
			failures = 0
			fmt.Fprintln(os.Stderr, "epoch: slowdown, unable to add trigger")
			time.Sleep(time.Second)
		}
	}

	atomic.AddUint64(&epochData.triggerCount, 1)
	return prior + 1
}

// ComputeSafe finds the oldest epoch any ACTIVE thread still has
// protected, using epoch as an upper-bound seed, and records epoch-1 of
// that as the globally safe epoch for reclamation.
func ComputeSafe(epoch uint64) uint64 {
	oldest := epoch
	for i := range &epochData.entries {
		ui := atomic.LoadUint64(&epochData.entries[i].ui)
		if ui != NullEpoch && ui < oldest {
			oldest = ui
		}
	}
	atomic.StoreUint64(&epochData.safe, oldest-1)
	return oldest - 1
}
