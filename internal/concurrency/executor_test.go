// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorSubmitRunsTasks(t *testing.T) {
	ex := NewExecutor(4)
	defer ex.Close()

	var counter int64
	task := func() { atomic.AddInt64(&counter, 1) }

	for i := 0; i < 50; i++ {
		if err := ex.Submit(task); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&counter) == 50 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected 50 completed tasks, got %d", atomic.LoadInt64(&counter))
}

func TestExecutorSubmitAfterCloseFails(t *testing.T) {
	ex := NewExecutor(2)
	ex.Close()

	if err := ex.Submit(func() {}); err != ErrExecutorClosed {
		t.Fatalf("Submit after Close: got %v, want ErrExecutorClosed", err)
	}
}

// TestRingBufferFIFO exercises RingBuffer directly, the structure backing
// each worker's local queue in Executor — confirms the order and
// full/empty edges executor.go relies on.
func TestRingBufferFIFO(t *testing.T) {
	r := NewRingBuffer[int](4)
	for i := 0; i < 4; i++ {
		if !r.Enqueue(i) {
			t.Fatalf("Enqueue(%d) failed unexpectedly", i)
		}
	}
	if r.Enqueue(4) {
		t.Fatal("Enqueue succeeded past capacity")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Dequeue()
		if !ok || v != i {
			t.Fatalf("Dequeue = %d, %v, want %d, true", v, ok, i)
		}
	}
	if _, ok := r.Dequeue(); ok {
		t.Fatal("Dequeue succeeded on empty buffer")
	}
}
