package shfllock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohortMutex_Counter(t *testing.T) {
	d := newInterleavedDomain(t, 8, 2)
	c := NewCohortMutex(d, WithReleaseThreshold(4))
	loops := 50000
	if testing.Short() {
		loops = 2000
	}

	var counter int
	var badBatch atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		p := mustProc(t, d, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range loops {
				c.Lock(p)
				counter++
				if b := c.batchCount(); b < 1 || b > 4 {
					badBatch.Add(1)
				}
				if int(c.serving.Load())-1 != p.Node() {
					badBatch.Add(1)
				}
				c.Unlock(p)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8*loops, counter)
	assert.Zero(t, badBatch.Load())
	assert.False(t, c.IsLocked())
	for i := range c.sockets {
		assert.Zero(t, c.sockets[i].qtail.Load())
	}
}

func TestCohortMutex_LocalHandoff(t *testing.T) {
	d := newTestDomain(t, 4, 2)
	c := NewCohortMutex(d)
	p0, p1 := mustProc(t, d, 0), mustProc(t, d, 1)
	require.Equal(t, p0.Node(), p1.Node())

	c.Lock(p0)
	require.EqualValues(t, 1, c.batchCount())

	h := nextHandle(p1)
	got := make(chan uint32)
	go func() {
		c.Lock(p1)
		got <- c.batchCount()
		c.Unlock(p1)
	}()
	waitFor(t, "local waiter", func() bool { return c.sockets[0].qtail.Load() == h })
	c.Unlock(p0)
	assert.EqualValues(t, 2, <-got)
	assert.False(t, c.IsLocked())
}

func TestCohortMutex_ThresholdReleasesGlobal(t *testing.T) {
	d := newTestDomain(t, 4, 2)
	c := NewCohortMutex(d, WithReleaseThreshold(1))
	p0, p1 := mustProc(t, d, 0), mustProc(t, d, 1)

	c.Lock(p0)
	h := nextHandle(p1)
	got := make(chan uint32)
	go func() {
		c.Lock(p1)
		got <- c.batchCount()
		c.Unlock(p1)
	}()
	waitFor(t, "local waiter", func() bool { return c.sockets[0].qtail.Load() == h })
	c.Unlock(p0)
	// Threshold reached: p1 had to take the global lock itself.
	assert.EqualValues(t, 1, <-got)
}

func TestCohortMutex_RemoteWaiterGetsGlobal(t *testing.T) {
	d := newTestDomain(t, 4, 2)
	c := NewCohortMutex(d)
	p0, p2 := mustProc(t, d, 0), mustProc(t, d, 2)
	require.NotEqual(t, p0.Node(), p2.Node())

	c.Lock(p0)
	done := make(chan int)
	go func() {
		c.Lock(p2)
		done <- int(c.serving.Load()) - 1
		c.Unlock(p2)
	}()
	waitFor(t, "remote socket to queue", func() bool { return c.gtail.Load() == uint32(p2.Node())+1 })
	c.Unlock(p0)
	assert.Equal(t, p2.Node(), <-done)
}

func TestCohortMutex_TryLock(t *testing.T) {
	d := newTestDomain(t, 4, 2)
	c := NewCohortMutex(d)
	p0, p1, p2 := mustProc(t, d, 0), mustProc(t, d, 1), mustProc(t, d, 2)

	require.True(t, c.TryLock(p0))
	assert.False(t, c.TryLock(p1))
	assert.False(t, c.TryLock(p2))
	c.Unlock(p0)

	require.True(t, c.TryLock(p2))
	c.Unlock(p2)
	assert.False(t, c.IsLocked())
	assert.Zero(t, p0.used|p1.used|p2.used)
}

func TestCohortMutex_UnlockByOther(t *testing.T) {
	d := newTestDomain(t, 4, 2)
	c := NewCohortMutex(d)
	p0, p1 := mustProc(t, d, 0), mustProc(t, d, 1)

	requireContract(t, func() { c.Unlock(p0) })
	c.Lock(p0)
	requireContract(t, func() { c.Unlock(p1) })
	c.Unlock(p0)
}

func TestCohortMutex_NestedHolds(t *testing.T) {
	d := newTestDomain(t, 2, 1, WithMaxNesting(2))
	p := mustProc(t, d, 0)
	a, b := NewCohortMutex(d), NewCohortMutex(d)

	a.Lock(p)
	b.Lock(p)
	requireContract(t, func() { d.Put(p) })
	b.Unlock(p)
	a.Unlock(p)
	d.Put(p)
}

func TestCohortMutex_ForeignDomain(t *testing.T) {
	d1 := newTestDomain(t, 2, 1)
	d2 := newTestDomain(t, 2, 1)
	c := NewCohortMutex(d1)
	requireContract(t, func() { c.Lock(mustProc(t, d2, 0)) })
}
