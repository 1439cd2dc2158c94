package opt

import (
	"sync"
	"testing"
	"time"
)

func TestSemaParkUnpark(t *testing.T) {
	var s Sema

	done := make(chan struct{})
	go func() {
		s.Acquire()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned before Release")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after Release")
	}
}

// A wake issued before the waiter blocks must not be lost: the lock
// grants a parked node without knowing whether it already slept.
func TestSemaReleaseBeforeAcquire(t *testing.T) {
	var s Sema
	s.Release()

	done := make(chan struct{})
	go func() {
		s.Acquire()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("early Release was lost")
	}
}

func TestSemaManyWaiters(t *testing.T) {
	var s Sema
	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			s.Acquire()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	for range n {
		s.Release()
	}

	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Not all waiters woke up")
	}
}

func TestSpinHelpers(t *testing.T) {
	// canSpin refuses after a handful of iterations regardless of load.
	if CanSpin(1 << 20) {
		t.Fatal("CanSpin allowed an unbounded spin")
	}
	DoSpin()
}

func TestCounterStripeAligned(t *testing.T) {
	if CacheLineSize_ == 0 || CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("CacheLineSize_ = %d, want a power of two", CacheLineSize_)
	}
}
