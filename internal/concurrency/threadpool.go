// File: internal/concurrency/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadPool wraps Executor with lock-free queue underneath. It is the
// consumed-only worker pool that application handlers use to run blocking
// work off an event-loop thread.

package concurrency

// ThreadPool is a fixed-size pool of goroutines accepting arbitrary tasks.
type ThreadPool struct {
	executor *Executor
}

// NewThreadPool creates a pool of size workers (runtime.NumCPU() if size<=0).
func NewThreadPool(size int) *ThreadPool {
	return &ThreadPool{
		executor: NewExecutor(size),
	}
}

// Submit enqueues f for execution on some worker goroutine.
func (tp *ThreadPool) Submit(f func()) error {
	return tp.executor.Submit(f)
}

// Close shuts the pool down; queued-but-not-started tasks are dropped.
func (tp *ThreadPool) Close() {
	tp.executor.Close()
}

// Stats returns basic pool metrics (total/completed/pending tasks, worker count).
func (tp *ThreadPool) Stats() map[string]int64 {
	return tp.executor.Stats()
}
