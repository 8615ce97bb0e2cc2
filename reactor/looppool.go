//go:build linux

// Author: momentics <momentics@gmail.com>
package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// EventLoopThread owns exactly one EventLoop, run on its own OS thread (via
// runtime.LockOSThread so optional CPU pinning has a stable target).
// Grounded on the EventLoopThreadPool usage pattern visible throughout
// cooper's AppTcpServer.cpp/HttpServer.cpp.
type EventLoopThread struct {
	loop    *EventLoop
	cpu     int // -1 means unpinned
	started chan struct{}
	done    chan struct{}
	err     error
}

// NewEventLoopThread creates a thread wrapper; the loop is not started
// until Start is called. cpu, if >= 0, is the CPU this thread's loop will
// attempt to pin to once running (best-effort, never fatal on failure).
func NewEventLoopThread(cpu int) *EventLoopThread {
	return &EventLoopThread{
		cpu:     cpu,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the owning goroutine and blocks until the loop is
// constructed and ready to accept channels/timers, returning it.
func (t *EventLoopThread) Start() (*EventLoop, error) {
	go t.threadFunc()
	<-t.started
	if t.err != nil {
		return nil, t.err
	}
	return t.loop, nil
}

func (t *EventLoopThread) threadFunc() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	if t.cpu >= 0 {
		pinCurrentThread(t.cpu)
	}

	loop, err := NewEventLoop()
	if err != nil {
		t.err = err
		close(t.started)
		return
	}
	t.loop = loop
	close(t.started)

	if err := loop.Run(); err != nil {
		loop.logger.Printf("event loop exited with error: %v", err)
	}
}

// Wait blocks until the thread's loop has returned from Run.
func (t *EventLoopThread) Wait() { <-t.done }

// EventLoopThreadPool owns a fixed set of EventLoopThreads and hands out
// loops round-robin. Grounded on cooper's EventLoopThreadPool, used by
// TcpServer to distribute accepted connections across I/O loops.
type EventLoopThreadPool struct {
	threads []*EventLoopThread
	loops   []*EventLoop
	next    atomic.Uint64

	mu      sync.Mutex
	started bool
	pinned  bool
}

// NewEventLoopThreadPool creates a pool of size loops. If pin is true, loop
// i is pinned to CPU i%NumCPU via SchedSetaffinity (best-effort).
func NewEventLoopThreadPool(size int, pin bool) *EventLoopThreadPool {
	if size <= 0 {
		size = 1
	}
	return &EventLoopThreadPool{
		threads: make([]*EventLoopThread, size),
		loops:   make([]*EventLoop, size),
		pinned:  pin,
	}
}

// Start launches all threads and waits for every loop to be ready.
func (p *EventLoopThreadPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("reactor: loop pool already started")
	}
	ncpu := runtime.NumCPU()
	for i := range p.threads {
		cpu := -1
		if p.pinned {
			cpu = i % ncpu
		}
		t := NewEventLoopThread(cpu)
		loop, err := t.Start()
		if err != nil {
			return fmt.Errorf("reactor: starting loop %d: %w", i, err)
		}
		p.threads[i] = t
		p.loops[i] = loop
	}
	p.started = true
	return nil
}

// Size returns the number of loops in the pool.
func (p *EventLoopThreadPool) Size() int { return len(p.loops) }

// GetNextLoop returns the next loop in round-robin order.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	n := p.next.Add(1) - 1
	return p.loops[int(n)%len(p.loops)]
}

// Loops returns all loops owned by the pool, in fixed order.
func (p *EventLoopThreadPool) Loops() []*EventLoop {
	return p.loops
}

// Quit stops every loop in the pool and waits for their threads to exit.
func (p *EventLoopThreadPool) Quit() {
	for _, l := range p.loops {
		l.Quit()
	}
	for _, t := range p.threads {
		t.Wait()
	}
}
