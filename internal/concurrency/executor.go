// File: internal/concurrency/executor.go
// Package concurrency implements a small worker-pool executor used to run
// application handlers off an event-loop thread.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines, using lock-free local queues
// and a global queue fallback. The RingBuffer type is defined in ring.go.

package concurrency

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrExecutorClosed indicates the executor has been shut down.
var ErrExecutorClosed = errors.New("executor is closed")

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines. It is the concrete backing
// for the "thread pool used for application work" that the reactor kernel
// only ever consumes through Submit — it never reaches back into the
// reactor's own state.
type Executor struct {
	globalQueue chan TaskFunc            // fallback queue for tasks when local queues are full
	localQueues []*RingBuffer[TaskFunc]  // per-worker lock-free ring buffers
	workers     []*worker                // worker instances
	closeCh     chan struct{}            // signals executor shutdown
	closed      int32                    // atomic flag: 1 if closed
	numWorkers  int32                    // current number of workers
	mu          sync.Mutex               // protects resizing operations

	// statistics
	totalTasks     int64
	completedTasks int64
}

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		numWorkers:  int32(numWorkers),
	}
	e.localQueues = make([]*RingBuffer[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = NewRingBuffer[TaskFunc](1024)
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:         i,
			executor:   e,
			localQueue: e.localQueues[i],
			stopCh:     make(chan struct{}),
		}
		e.workers[i] = w
		go w.run()
	}
	return e
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if executor is closed.
// ErrExecutorClosed is also returned when the chosen worker's ring and the
// global queue are both full.
func (e *Executor) Submit(task TaskFunc) error {
	if atomic.LoadInt32(&e.closed) == 1 {
		return ErrExecutorClosed
	}
	atomic.AddInt64(&e.totalTasks, 1)
	// attempt local enqueue based on round-robin ID
	idx := int(atomic.LoadInt64(&e.totalTasks) % int64(e.NumWorkers()))
	if e.localQueues[idx].Enqueue(task) {
		return nil
	}
	// local ring full: fall back to the shared global queue
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	default:
		return ErrExecutorClosed
	}
}

// NumWorkers returns the current number of active workers.
func (e *Executor) NumWorkers() int {
	return int(atomic.LoadInt32(&e.numWorkers))
}

// Close gracefully shuts down the executor and waits for workers to exit.
func (e *Executor) Close() {
	if atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		close(e.closeCh)
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, w := range e.workers {
			close(w.stopCh)
		}
	}
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"total_tasks":     atomic.LoadInt64(&e.totalTasks),
		"completed_tasks": atomic.LoadInt64(&e.completedTasks),
		"pending_tasks":   atomic.LoadInt64(&e.totalTasks) - atomic.LoadInt64(&e.completedTasks),
		"num_workers":     int64(e.NumWorkers()),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id         int
	executor   *Executor
	localQueue *RingBuffer[TaskFunc]
	stopCh     chan struct{}
	stopped    int32
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer atomic.StoreInt32(&w.stopped, 1)
	for {
		select {
		case <-w.stopCh:
			return
		default:
			if task, ok := w.localQueue.Dequeue(); ok {
				w.executeTask(task)
				continue
			}
			select {
			case task := <-w.executor.globalQueue:
				w.executeTask(task)
			case <-w.stopCh:
				return
			default:
				// backoff to reduce CPU spinning
				time.Sleep(time.Millisecond)
			}
		}
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			// swallow panic to keep worker alive
		}
		atomic.AddInt64(&w.executor.completedTasks, 1)
	}()
	task()
}
