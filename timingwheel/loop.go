// Author: momentics <momentics@gmail.com>
package timingwheel

import (
	"time"

	"github.com/momentics/reactorcore/reactor"
)

// tickInterval and bucketsPerWheel are spec.md §4.4's defaults.
const (
	tickInterval    = time.Second
	bucketsPerWheel = 100
)

// NewOnLoop builds a TimingWheel sized for maxTimeout and drives it with a
// repeating timer on loop, ticking once per second. The wheel's Insert must
// only be called from loop's own goroutine, matching the "timing wheel is
// owned by a single loop" invariant of spec.md §5.
func NewOnLoop(loop *reactor.EventLoop, maxTimeout time.Duration) *TimingWheel {
	tw := New(tickInterval, maxTimeout, bucketsPerWheel)
	id := loop.RunEvery(tickInterval, tw.Advance)
	tw.stop = func() { loop.InvalidateTimer(id) }
	return tw
}

// Stop cancels the wheel's driving timer. Safe to call at most once.
func (tw *TimingWheel) Stop() {
	if tw.stop != nil {
		tw.stop()
	}
}
