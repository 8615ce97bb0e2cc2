// Package timingwheel implements a hierarchical bucketed timing wheel
// providing amortized O(1) insertion and expiry for coarse-accuracy
// timeouts, the data structure of choice when holding 10^4-10^6 idle
// connection timeouts where second-level accuracy is enough.
//
// Unlike cooper's TimingWheel (the source this is grounded on), whose
// CallbackEntry fires its effect from a C++ destructor when the last
// shared_ptr holder drops it, entries here carry an explicit callback and
// an explicit Cancel method, per spec.md's §9 re-architecture note.
//
// Author: momentics <momentics@gmail.com>
package timingwheel

import (
	"sync"
	"time"
)

// Entry is an opaque handle to a scheduled expiry callback. Cancel may be
// called any number of times, from any goroutine; it only prevents the
// callback from firing if it has not fired yet.
type Entry struct {
	mu        sync.Mutex
	cb        func()
	cancelled bool
	dueTick   int64
}

// Cancel prevents the entry's callback from firing, if it has not already.
func (e *Entry) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

type bucket map[*Entry]struct{}

// TimingWheel is a vector of wheels, each a ring of bucketsPerWheel
// buckets, advanced by a single repeating timer. Owned exclusively by the
// loop that ticks it; Insert may be called from that loop only, while
// Entry.Cancel is safe from any goroutine (callers needing cross-loop
// insertion must marshal through
// reactor.EventLoop.RunInLoop themselves, matching every other
// loop-owned-state rule in this module).
type TimingWheel struct {
	tick            time.Duration
	bucketsPerWheel int

	wheels  [][]bucket
	cursors []int64

	ticksElapsed int64

	stop func()
}

// New constructs a wheel ticking every tick, able to hold timeouts up to
// maxTimeout, with bucketsPerWheel buckets per level (spec.md default:
// tick=1s, bucketsPerWheel=100, levels computed so
// bucketsPerWheel^levels >= maxTimeout/tick).
func New(tick time.Duration, maxTimeout time.Duration, bucketsPerWheel int) *TimingWheel {
	if bucketsPerWheel < 2 {
		bucketsPerWheel = 100
	}
	maxTicks := int64(maxTimeout / tick)
	if maxTicks < 1 {
		maxTicks = 1
	}
	levels := 1
	span := int64(bucketsPerWheel)
	for span < maxTicks {
		span *= int64(bucketsPerWheel)
		levels++
	}
	tw := &TimingWheel{
		tick:            tick,
		bucketsPerWheel: bucketsPerWheel,
		wheels:          make([][]bucket, levels),
		cursors:         make([]int64, levels),
	}
	for lvl := range tw.wheels {
		buckets := make([]bucket, bucketsPerWheel)
		for i := range buckets {
			buckets[i] = make(bucket)
		}
		tw.wheels[lvl] = buckets
	}
	return tw
}

// Levels reports the number of wheel levels.
func (tw *TimingWheel) Levels() int { return len(tw.wheels) }

// Insert schedules cb to fire on the n-th Advance after the call, where n
// is delay rounded up to a whole tick (minimum one tick), and returns a
// handle that can cancel it. Because the current tick is already partly
// elapsed, the callback fires between n-1 and n ticks from now. Must be
// called on the wheel's owning loop.
func (tw *TimingWheel) Insert(delay time.Duration, cb func()) *Entry {
	ticks := int64(delay / tw.tick)
	if delay%tw.tick != 0 {
		ticks++
	}
	if ticks < 1 {
		ticks = 1
	}
	e := &Entry{cb: cb, dueTick: tw.ticksElapsed + ticks}
	tw.place(e, ticks)
	return e
}

// place inserts e into the bucket that will be evicted in exactly `in`
// ticks from now, choosing the coarsest level that still fits so the
// entry only needs to cascade through the finer levels as it approaches
// expiry — per spec.md §4.4's "compute the wheel index and in-wheel
// offset from d / (tick * B^k)".
func (tw *TimingWheel) place(e *Entry, in int64) {
	b := int64(tw.bucketsPerWheel)
	level := 0
	span := int64(1)
	for level < len(tw.wheels)-1 && in >= span*b {
		span *= b
		level++
	}
	offset := in / span
	if offset >= b {
		offset = b - 1 // clamp: exceeds this wheel's total reach, fires on its last slot
	}
	idx := (tw.cursors[level] + offset) % b
	tw.wheels[level][idx][e] = struct{}{}
}

// Advance steps the wheel forward by one tick: the innermost wheel's
// cursor moves one slot and that slot's bucket is evicted (its live
// entries fire); every bucketsPerWheel innermost ticks the next wheel
// advances and its evicted bucket is re-inserted (cascaded) into the
// wheel below, recomputing each entry's remaining delay exactly.
func (tw *TimingWheel) Advance() {
	tw.ticksElapsed++
	tw.advanceLevel(0)
}

func (tw *TimingWheel) advanceLevel(level int) {
	b := int64(tw.bucketsPerWheel)
	tw.cursors[level] = (tw.cursors[level] + 1) % b
	idx := tw.cursors[level]
	evicted := tw.wheels[level][idx]
	tw.wheels[level][idx] = make(bucket)

	if level == 0 {
		for e := range evicted {
			e.fire()
		}
	} else {
		for e := range evicted {
			remaining := e.dueTick - tw.ticksElapsed
			if remaining <= 0 {
				e.fire()
				continue
			}
			tw.place(e, remaining)
		}
	}

	if tw.cursors[level] == 0 && level+1 < len(tw.wheels) {
		tw.advanceLevel(level + 1)
	}
}

func (e *Entry) fire() {
	e.mu.Lock()
	cancelled := e.cancelled
	cb := e.cb
	e.mu.Unlock()
	if !cancelled && cb != nil {
		cb()
	}
}
