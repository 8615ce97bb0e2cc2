//go:build linux

// Author: momentics <momentics@gmail.com>
package reactor

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// minRearm is the minimum interval a timerfd will be armed for; anything
// shorter is clamped, matching cooper's TimerQueue::howMuchTimeFromNow.
const minRearm = 100 * time.Microsecond

// TimerQueue is a min-heap of Timers keyed by due time, backed by a Linux
// timerfd. Cancellation is logical (skip-on-pop): the id is dropped from
// the live set but the heap entry is left to be discarded when popped.
// Grounded on cooper's TimerQueue.{hpp,cpp}.
type TimerQueue struct {
	loop      *EventLoop
	timerFd   int
	channel   *Channel
	heap      timerHeap
	byID      map[TimerID]*Timer
	nextID    atomic.Uint64
}

func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	tq := &TimerQueue{
		loop:    loop,
		timerFd: fd,
		byID:    make(map[TimerID]*Timer),
	}
	tq.channel = NewChannel(loop, fd)
	tq.channel.SetReadCallback(tq.handleRead)
	tq.channel.EnableReading()
	return tq, nil
}

// AddTimer schedules cb at when, repeating every interval if interval > 0.
// Always marshals onto the loop thread, mirroring TimerQueue::addTimer.
func (tq *TimerQueue) AddTimer(when time.Time, interval time.Duration, cb func()) TimerID {
	id := TimerID(tq.nextID.Add(1))
	t := newTimer(id, when, interval, cb)
	tq.loop.RunInLoop(func() { tq.addTimerInLoop(t) })
	return id
}

func (tq *TimerQueue) addTimerInLoop(t *Timer) {
	earliestChanged := tq.insert(t)
	if earliestChanged {
		tq.resetTimerFd(t.when)
	}
}

// Cancel invalidates id; it will be skipped when its heap entry is popped.
func (tq *TimerQueue) Cancel(id TimerID) {
	tq.loop.RunInLoop(func() {
		if t, ok := tq.byID[id]; ok {
			delete(tq.byID, id)
			t.callback = nil
		}
	})
}

func (tq *TimerQueue) insert(t *Timer) bool {
	earliestChanged := len(tq.heap) == 0 || t.when.Before(tq.heap[0].when)
	heap.Push(&tq.heap, t)
	tq.byID[t.id] = t
	return earliestChanged
}

func (tq *TimerQueue) resetTimerFd(when time.Time) {
	d := time.Until(when)
	if d < minRearm {
		d = minRearm
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(int64(d)),
	}
	if err := unix.TimerfdSettime(tq.timerFd, 0, &spec, nil); err != nil {
		tq.loop.logger.Printf("reactor: timerfd_settime: %v", err)
	}
}

func (tq *TimerQueue) handleRead() {
	var buf [8]byte
	_, _ = unix.Read(tq.timerFd, buf[:])
	_ = binary.LittleEndian.Uint64(buf[:])

	now := time.Now()
	expired := tq.getExpired(now)
	for _, t := range expired {
		if _, live := tq.byID[t.id]; !live {
			continue
		}
		cb := t.callback
		if cb != nil {
			cb()
		}
		if t.repeat {
			if _, stillLive := tq.byID[t.id]; !stillLive {
				// cancelled during its own callback; do not reinsert.
				continue
			}
			t.restart()
			tq.insert(t)
		} else {
			delete(tq.byID, t.id)
		}
	}
	if len(tq.heap) > 0 {
		tq.resetTimerFd(tq.heap[0].when)
	}
}

// getExpired pops every timer due at or before now.
func (tq *TimerQueue) getExpired(now time.Time) []*Timer {
	var expired []*Timer
	for len(tq.heap) > 0 && !tq.heap[0].when.After(now) {
		expired = append(expired, heap.Pop(&tq.heap).(*Timer))
	}
	return expired
}

func (tq *TimerQueue) close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	return unix.Close(tq.timerFd)
}
