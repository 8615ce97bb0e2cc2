// Author: momentics <momentics@gmail.com>
package reactor

import "time"

// TimerID identifies a scheduled timer. 0 is reserved and never issued.
type TimerID uint64

const InvalidTimerID TimerID = 0

// Timer is a single scheduled callback, one-shot or repeating. Grounded on
// cooper's Timer.hpp.
type Timer struct {
	id       TimerID
	when     time.Time
	interval time.Duration // 0 means one-shot
	repeat   bool
	callback func()

	heapIndex int // maintained by container/heap
}

func newTimer(id TimerID, when time.Time, interval time.Duration, cb func()) *Timer {
	return &Timer{
		id:       id,
		when:     when,
		interval: interval,
		repeat:   interval > 0,
		callback: cb,
	}
}

// restart advances a repeating timer's due time by one interval, anchored
// on its own previous `when` rather than wall-clock now — a run delayed by
// scheduling jitter does not shift every subsequent firing later.
func (t *Timer) restart() {
	t.when = t.when.Add(t.interval)
}

// timerHeap implements container/heap.Interface as a min-heap on `when`.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}
