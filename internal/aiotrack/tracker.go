// Package aiotrack implements the in-flight AIO request counter (spec.md
// §4.1/C1), grounded in tcmulib_track_aio_request_start/finish from
// libtcmu_aio.c. The original uses a spinlock-protected int; per spec.md
// §9's design notes this is simpler as a single atomic counter, since the
// only observation the rest of the engine needs is "did this Finish make
// the count hit zero."
package aiotrack

import "sync/atomic"

// Tracker counts in-flight asynchronous commands for one device. It exists
// so the engine can tell when every dispatched command has completed,
// without a separate wait mechanism per command: Finish's idle result
// drives Transport.ProcessingComplete. Device.Close does not consult it.
type Tracker struct {
	count atomic.Int64
}

// New returns a zeroed Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Start records the start of one in-flight command.
func (t *Tracker) Start() {
	t.count.Add(1)
}

// Finish records the completion of one in-flight command and reports
// whether the tracker is now idle (count reached zero). Callers must read
// the *post-decrement* value for the idle test — checking before
// decrementing races against a concurrent Start. A Finish with no matching
// Start is a programmer error, not a runtime condition to recover from
// (spec.md §4.1/§4.8); it panics rather than let the count go negative and
// report a false idle.
func (t *Tracker) Finish() (idle bool) {
	n := t.count.Add(-1)
	if n < 0 {
		panic("aiotrack: Finish called with no in-flight command")
	}
	return n == 0
}

// Count returns the current number of in-flight commands. Intended for
// metrics and tests; not for control flow racing against Start/Finish.
func (t *Tracker) Count() int64 {
	return t.count.Load()
}

// Idle reports whether the tracker currently has zero in-flight commands.
// Like Count, this is a snapshot, not a synchronization point; Device
// teardown must rely on Finish's return value, not a poll of Idle.
func (t *Tracker) Idle() bool {
	return t.count.Load() == 0
}
