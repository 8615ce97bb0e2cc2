//go:build linux

// Author: momentics <momentics@gmail.com>
package reactor

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs is the epoll_wait ceiling: a liveness guarantee (the loop
// always gets a chance to drain its task queue), not an accuracy one.
const pollTimeoutMs = 10_000

// EventLoop is a single-threaded, epoll-driven dispatcher: one poller, one
// timer queue, one wakeup source, and an MPSC task queue (pending tasks plus
// on-quit tasks). All channel/timer/poller mutation happens on the owning
// goroutine only. Grounded on cooper's EventLoop.{hpp,cpp}.
type EventLoop struct {
	poller *Poller
	timerQ *TimerQueue
	logger *log.Logger

	wakeupFd int
	wakeupCh *Channel

	threadID atomic.Uint64 // owning goroutine's id, set on Run entry
	looping  atomic.Bool
	quitting atomic.Bool
	calling  atomic.Bool // calling_tasks: true while draining the pending queue

	mu      sync.Mutex
	pending []func()
	onQuit  []func()

	activeChannels []*Channel
}

// NewEventLoop constructs a loop. The returned loop must be run from the
// goroutine that will call Run; that goroutine becomes its "owning thread"
// for the lifetime of the loop.
func NewEventLoop() (*EventLoop, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	el := &EventLoop{
		poller:   p,
		logger:   log.New(os.Stderr, "[reactor] ", log.LstdFlags|log.Lmicroseconds),
		wakeupFd: wfd,
	}
	// The constructing goroutine owns the loop until Run takes over, so the
	// channel registrations below pass assertInLoop.
	el.threadID.Store(goroutineID())
	el.wakeupCh = NewChannel(el, wfd)
	el.wakeupCh.SetReadCallback(el.handleWakeup)
	el.wakeupCh.EnableReading()

	tq, err := newTimerQueue(el)
	if err != nil {
		_ = p.Close()
		_ = unix.Close(wfd)
		return nil, err
	}
	el.timerQ = tq
	return el, nil
}

// Run blocks the calling goroutine, dispatching readiness events and
// draining the task queue until Quit is called and all on-quit tasks have
// run. It requires this goroutine to be the loop's owner for its duration.
func (el *EventLoop) Run() error {
	if !el.looping.CompareAndSwap(false, true) {
		return fmt.Errorf("reactor: event loop is already running")
	}
	el.threadID.Store(goroutineID())
	defer el.looping.Store(false)

	for !el.quitting.Load() {
		el.activeChannels = el.activeChannels[:0]
		if err := el.poller.Poll(pollTimeoutMs, &el.activeChannels); err != nil {
			el.runOnQuitTasks()
			return err
		}
		for _, ch := range el.activeChannels {
			ch.HandleEvent()
		}
		el.doPendingTasks()
	}
	el.runOnQuitTasks()
	return nil
}

// IsLoopThread reports whether the calling goroutine is this loop's owner.
func (el *EventLoop) IsLoopThread() bool {
	return goroutineID() == el.threadID.Load()
}

func (el *EventLoop) assertInLoop() {
	if !el.IsLoopThread() {
		panic("reactor: illegal cross-thread access to EventLoop-owned state")
	}
}

// RunInLoop runs f on the loop's thread. If called from that thread it runs
// synchronously inline (preserving re-entrance: f may itself enqueue more
// work); otherwise it is queued and the loop is woken.
func (el *EventLoop) RunInLoop(f func()) {
	if el.IsLoopThread() {
		f()
		return
	}
	el.QueueInLoop(f)
}

// QueueInLoop always enqueues f, waking the loop unless the caller is
// already on the loop thread inside the task-drain phase (where the wakeup
// would be redundant — the drain loop samples until empty regardless).
func (el *EventLoop) QueueInLoop(f func()) {
	el.mu.Lock()
	el.pending = append(el.pending, f)
	el.mu.Unlock()

	if !el.IsLoopThread() || !el.calling.Load() {
		el.wakeup()
	}
}

// RunOnQuit registers f to run once, after the loop has stopped polling but
// before Run returns.
func (el *EventLoop) RunOnQuit(f func()) {
	el.RunInLoop(func() {
		el.onQuit = append(el.onQuit, f)
	})
}

// Quit is idempotent and safe from any goroutine; calling it from another
// thread wakes the loop so it observes quitting promptly.
func (el *EventLoop) Quit() {
	if !el.quitting.CompareAndSwap(false, true) {
		return
	}
	if !el.IsLoopThread() {
		el.wakeup()
	}
}

// doPendingTasks drains the pending queue to empty; tasks may re-enqueue
// during their own execution, so the drain repeats sampling until a pass
// finds nothing left — a snapshot-and-swap would silently drop re-enqueued
// work.
func (el *EventLoop) doPendingTasks() {
	el.calling.Store(true)
	defer el.calling.Store(false)
	for {
		el.mu.Lock()
		if len(el.pending) == 0 {
			el.mu.Unlock()
			return
		}
		tasks := el.pending
		el.pending = nil
		el.mu.Unlock()
		for _, t := range tasks {
			t()
		}
	}
}

func (el *EventLoop) runOnQuitTasks() {
	for _, f := range el.onQuit {
		f()
	}
}

func (el *EventLoop) wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(el.wakeupFd, buf[:]); err != nil && err != unix.EAGAIN {
		el.logger.Printf("wakeup write failed: %v", err)
	}
}

func (el *EventLoop) handleWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(el.wakeupFd, buf[:]); err != nil {
			break
		}
	}
}

// RunAt schedules cb to fire at when, once.
func (el *EventLoop) RunAt(when time.Time, cb func()) TimerID {
	return el.timerQ.AddTimer(when, 0, cb)
}

// RunAfter schedules cb to fire once after delay.
func (el *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return el.timerQ.AddTimer(time.Now().Add(delay), 0, cb)
}

// RunEvery schedules cb to fire every interval, starting after interval.
func (el *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return el.timerQ.AddTimer(time.Now().Add(interval), interval, cb)
}

// InvalidateTimer logically cancels id.
func (el *EventLoop) InvalidateTimer(id TimerID) {
	el.timerQ.Cancel(id)
}

func (el *EventLoop) updateChannel(c *Channel) {
	el.assertInLoop()
	if err := el.poller.UpdateChannel(c); err != nil {
		el.logger.Printf("updateChannel: %v", err)
	}
}

func (el *EventLoop) removeChannel(c *Channel) {
	el.assertInLoop()
	if err := el.poller.RemoveChannel(c); err != nil {
		el.logger.Printf("removeChannel: %v", err)
	}
}

// Close releases the loop's kernel resources. Call only after Run returns.
func (el *EventLoop) Close() error {
	_ = el.timerQ.close()
	_ = unix.Close(el.wakeupFd)
	return el.poller.Close()
}

// Logger exposes the loop's component logger for owned subsystems.
func (el *EventLoop) Logger() *log.Logger { return el.logger }

// goroutineID returns the current goroutine's id, parsed from its stack
// trace header ("goroutine NNN ["). Used only for same-thread identity
// checks (re-entrancy guards), never for scheduling decisions.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
