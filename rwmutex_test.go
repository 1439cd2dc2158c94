package shfllock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rwCase struct {
	name string
	new  func(d *Domain) RWLocker
}

func rwCases() []rwCase {
	return []rwCase{
		{"centralized", func(d *Domain) RWLocker { return NewRWMutex(d) }},
		{"reader-preferred", func(d *Domain) RWLocker {
			return NewRWMutex(d, WithDiscipline(ReaderPreferred))
		}},
		{"neutral", func(d *Domain) RWLocker {
			return NewRWMutex(d, WithDiscipline(Neutral))
		}},
		{"neutral-distributed", func(d *Domain) RWLocker {
			rw := NewRWMutex(d, WithDiscipline(Neutral))
			rw.SetDistributed()
			return rw
		}},
		{"cohort", func(d *Domain) RWLocker { return NewCohortRWMutex(d) }},
	}
}

func TestRWLockers_ReadersAndWriters(t *testing.T) {
	for _, tc := range rwCases() {
		t.Run(tc.name, func(t *testing.T) {
			d := newInterleavedDomain(t, 6, 2)
			rw := tc.new(d)

			var readers, writers atomic.Int32
			loops := 5000
			if testing.Short() {
				loops = 500
			}
			var wg sync.WaitGroup
			for i := range 6 {
				p := mustProc(t, d, i)
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := range loops {
						if i < 2 && j%4 == 0 {
							rw.Lock(p)
							if writers.Add(1) != 1 {
								t.Errorf("multiple writers active")
							}
							if readers.Load() != 0 {
								t.Errorf("writer observed active readers")
							}
							writers.Add(-1)
							rw.Unlock(p)
							continue
						}
						rw.RLock(p)
						readers.Add(1)
						if writers.Load() != 0 {
							t.Errorf("reader observed active writer")
						}
						readers.Add(-1)
						rw.RUnlock(p)
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestRWLockers_TryLock(t *testing.T) {
	for _, tc := range rwCases() {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDomain(t, 4, 2)
			rw := tc.new(d)
			p0, p1 := mustProc(t, d, 0), mustProc(t, d, 2)

			require.True(t, rw.TryRLock(p0))
			assert.True(t, rw.TryRLock(p1))
			assert.False(t, rw.TryLock(p1))
			rw.RUnlock(p1)
			rw.RUnlock(p0)

			require.True(t, rw.TryLock(p0))
			assert.False(t, rw.TryRLock(p1))
			assert.False(t, rw.TryLock(p1))
			rw.Unlock(p0)

			require.True(t, rw.TryLock(p1))
			rw.Unlock(p1)
		})
	}
}

func TestRWLockers_WriterWaitsForReader(t *testing.T) {
	for _, tc := range rwCases() {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDomain(t, 4, 2)
			rw := tc.new(d)
			r, w := mustProc(t, d, 0), mustProc(t, d, 3)

			rw.RLock(r)
			var locked atomic.Bool
			done := make(chan struct{})
			go func() {
				rw.Lock(w)
				locked.Store(true)
				rw.Unlock(w)
				close(done)
			}()
			for range 100 {
				require.False(t, locked.Load())
			}
			rw.RUnlock(r)
			<-done
		})
	}
}

func TestRWMutex_SetDistributed(t *testing.T) {
	d := newTestDomain(t, 2, 1)
	p := mustProc(t, d, 0)

	c := NewRWMutex(d)
	requireContract(t, c.SetDistributed)

	rp := NewRWMutex(d, WithDiscipline(ReaderPreferred))
	assert.True(t, rp.IsDistributed())
	rp.SetDistributed()
	assert.True(t, rp.IsDistributed())

	n := NewRWMutex(d, WithDiscipline(Neutral))
	assert.False(t, n.IsDistributed())
	n.RLock(p)
	requireContract(t, n.SetDistributed)
	n.RUnlock(p)
	n.SetDistributed()
	assert.True(t, n.IsDistributed())
	assert.Equal(t, Neutral, n.Discipline())

	n.Lock(p)
	assert.True(t, n.IsLocked())
	n.Unlock(p)
	assert.False(t, n.IsLocked())
}

func TestRWMutex_ZeroValue(t *testing.T) {
	d := newTestDomain(t, 2, 1)
	p := mustProc(t, d, 0)
	var rw RWMutex
	rw.RLock(p)
	rw.RUnlock(p)
	rw.Lock(p)
	assert.True(t, rw.IsLocked())
	rw.Unlock(p)
	assert.Zero(t, rw.cnts.Load())
}

func TestRWMutex_UnlockMisuse(t *testing.T) {
	d := newTestDomain(t, 2, 1)
	p := mustProc(t, d, 0)

	rw := NewRWMutex(d)
	requireContract(t, func() { rw.Unlock(p) })
	requireContract(t, func() { rw.RUnlock(p) })

	rp := NewRWMutex(d, WithDiscipline(ReaderPreferred))
	requireContract(t, func() { rp.RUnlock(p) })

	cr := NewCohortRWMutex(d)
	requireContract(t, func() { cr.RUnlock(p) })
}

func TestRWMutex_ReaderQueuesBehindWaitingWriter(t *testing.T) {
	d := newTestDomain(t, 3, 1)
	rw := NewRWMutex(d)
	r1, w, r2 := mustProc(t, d, 0), mustProc(t, d, 1), mustProc(t, d, 2)

	rw.RLock(r1)
	wDone := make(chan struct{})
	go func() {
		rw.Lock(w)
		rw.Unlock(w)
		close(wDone)
	}()
	waitFor(t, "writer to wait", func() bool { return rw.cnts.Load()&rwWriterWaiting != 0 })

	// A writer is waiting: new readers must not get in.
	assert.False(t, rw.TryRLock(r2))
	rw.RUnlock(r1)
	<-wDone
	assert.True(t, rw.TryRLock(r2))
	rw.RUnlock(r2)
}

type interval struct{ start, end time.Time }

func overlaps(a, b interval) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

func TestRWMutex_WriteIntervalsDisjoint(t *testing.T) {
	d := newInterleavedDomain(t, 3, 2)
	rw := NewRWMutex(d)
	const loops = 2000

	var (
		mu     sync.Mutex
		reads  []interval
		writes []interval
		wg     sync.WaitGroup
	)
	for i := range 3 {
		p := mustProc(t, d, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range loops {
				if i == 2 {
					rw.Lock(p)
					iv := interval{start: time.Now()}
					iv.end = time.Now()
					rw.Unlock(p)
					mu.Lock()
					writes = append(writes, iv)
					mu.Unlock()
					continue
				}
				rw.RLock(p)
				iv := interval{start: time.Now()}
				iv.end = time.Now()
				rw.RUnlock(p)
				mu.Lock()
				reads = append(reads, iv)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, writes, loops)
	require.Len(t, reads, 2*loops)
	for _, w := range writes {
		for _, r := range reads {
			if overlaps(w, r) {
				t.Fatalf("write %v-%v overlaps read %v-%v", w.start, w.end, r.start, r.end)
			}
		}
	}
}
