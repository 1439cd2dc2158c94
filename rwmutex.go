package shfllock

import (
	"sync/atomic"

	"github.com/llxisdsh/shfllock/internal/opt"
)

// RWMutex is a reader-writer lock whose writers queue on a Mutex.
//
// In centralized mode readers count themselves in the lock word and fall
// back to the writer queue when a writer holds or waits for the lock. In
// distributed mode each reader marks its CPU slot instead and writers,
// once they own the queue lock, wait for every slot to clear.
//
// State layout of cnts (32 bits):
//
//	bit  0     distributed mode
//	bits 2-7   writer holds the lock
//	bit  8     writer waiting
//	bits 9-31  reader count
type RWMutex struct {
	_          noCopy
	cnts       atomic.Uint32
	discipline Discipline
	wait       Mutex
	markers    []opt.CounterStripe_
}

const (
	rwDistributed   uint32 = 0x1
	rwWriterLocked  uint32 = 0xfc
	rwWriterWaiting uint32 = 0x100
	rwWriterMask    uint32 = rwWriterLocked | rwWriterWaiting
	rwReaderShift          = 9
	rwReaderBias    uint32 = 1 << rwReaderShift
)

// NewRWMutex returns an unlocked RWMutex for Procs of d. The discipline
// comes from WithDiscipline (default Centralized); the other options
// configure the writer queue.
func NewRWMutex(d *Domain, opts ...Option) *RWMutex {
	o := buildOptions(opts)
	rw := &RWMutex{discipline: o.discipline}
	rw.wait.opts = o
	if o.discipline != Centralized {
		rw.markers = make([]opt.CounterStripe_, d.NumCPUs())
	}
	if o.discipline == ReaderPreferred {
		rw.cnts.Store(rwDistributed)
	}
	return rw
}

// Discipline returns the reader tracking rw was built with.
func (rw *RWMutex) Discipline() Discipline { return rw.discipline }

// IsDistributed reports whether readers use per-CPU markers.
func (rw *RWMutex) IsDistributed() bool {
	return rw.cnts.Load()&rwDistributed != 0
}

// SetDistributed switches a Neutral lock to per-CPU reader markers. It
// must be called while the lock is idle; it is a no-op for
// ReaderPreferred and a contract violation for Centralized.
func (rw *RWMutex) SetDistributed() {
	switch rw.discipline {
	case Centralized:
		contractf("SetDistributed", "centralized rwlock cannot be distributed")
	case ReaderPreferred:
		return
	}
	if rw.cnts.Load()&^rwDistributed != 0 || rw.wait.isBusy() {
		contractf("SetDistributed", "rwlock is in use")
	}
	rw.cnts.Or(rwDistributed)
}

// IsLocked reports whether a writer holds rw.
func (rw *RWMutex) IsLocked() bool {
	c := rw.cnts.Load()
	if c&rwDistributed != 0 {
		return rw.wait.IsLocked()
	}
	return c&rwWriterLocked != 0
}

// RLock acquires rw for reading.
func (rw *RWMutex) RLock(p *Proc) {
	if rw.cnts.Load()&rwDistributed != 0 {
		mk := &rw.markers[p.cpu].C
		atomic.AddInt64(mk, 1)
		if !rw.wait.isBusy() {
			return
		}
		rw.rlockDistributedSlow(mk)
		return
	}
	if rw.cnts.Add(rwReaderBias)&rwWriterMask == 0 {
		return
	}
	rw.rlockSlow(p)
}

func (rw *RWMutex) rlockDistributedSlow(mk *int64) {
	var spins int
	for {
		atomic.AddInt64(mk, -1)
		for rw.wait.isBusy() {
			relax(&spins)
		}
		atomic.AddInt64(mk, 1)
		if !rw.wait.isBusy() {
			return
		}
	}
}

// rlockSlow queues the reader behind the writer that holds or waits for
// rw, so readers cannot starve it.
func (rw *RWMutex) rlockSlow(p *Proc) {
	rw.cnts.Add(^(rwReaderBias - 1))
	rw.wait.Lock(p)
	rw.cnts.Add(rwReaderBias)
	var spins int
	for rw.cnts.Load()&rwWriterLocked != 0 {
		relax(&spins)
	}
	rw.wait.Unlock(p)
}

// TryRLock acquires rw for reading if no writer holds or waits for it.
func (rw *RWMutex) TryRLock(p *Proc) bool {
	c := rw.cnts.Load()
	if c&rwDistributed != 0 {
		mk := &rw.markers[p.cpu].C
		atomic.AddInt64(mk, 1)
		if !rw.wait.isBusy() {
			return true
		}
		atomic.AddInt64(mk, -1)
		return false
	}
	if c&rwWriterMask != 0 {
		return false
	}
	if rw.cnts.Add(rwReaderBias)&rwWriterMask == 0 {
		return true
	}
	rw.cnts.Add(^(rwReaderBias - 1))
	return false
}

// RUnlock releases a read lock. In distributed mode it must be called
// with the Proc that took the lock.
func (rw *RWMutex) RUnlock(p *Proc) {
	if rw.cnts.Load()&rwDistributed != 0 {
		if atomic.AddInt64(&rw.markers[p.cpu].C, -1) < 0 {
			contractf("RUnlock", "rwlock is not read-locked by cpu %d", p.cpu)
		}
		return
	}
	if old := rw.cnts.Add(^(rwReaderBias - 1)) + rwReaderBias; old>>rwReaderShift == 0 {
		contractf("RUnlock", "rwlock is not read-locked")
	}
}

// Lock acquires rw for writing.
func (rw *RWMutex) Lock(p *Proc) {
	if rw.cnts.Load()&rwDistributed != 0 {
		rw.wait.Lock(p)
		rw.waitMarkers()
		return
	}
	if rw.cnts.CompareAndSwap(0, rwWriterLocked) {
		return
	}
	rw.lockSlow(p)
}

func (rw *RWMutex) lockSlow(p *Proc) {
	rw.wait.Lock(p)
	if rw.cnts.Load() == 0 && rw.cnts.CompareAndSwap(0, rwWriterLocked) {
		rw.wait.Unlock(p)
		return
	}
	rw.cnts.Add(rwWriterWaiting)
	var spins int
	for {
		for rw.cnts.Load() != rwWriterWaiting {
			relax(&spins)
		}
		if rw.cnts.CompareAndSwap(rwWriterWaiting, rwWriterLocked) {
			break
		}
	}
	rw.wait.Unlock(p)
}

// TryLock acquires rw for writing if it is entirely free.
func (rw *RWMutex) TryLock(p *Proc) bool {
	c := rw.cnts.Load()
	if c&rwDistributed != 0 {
		if !rw.wait.TryLock(p) {
			return false
		}
		if rw.markersActive() {
			rw.wait.Unlock(p)
			return false
		}
		return true
	}
	return c == 0 && rw.cnts.CompareAndSwap(0, rwWriterLocked)
}

// Unlock releases the write lock.
func (rw *RWMutex) Unlock(p *Proc) {
	if rw.cnts.Load()&rwDistributed != 0 {
		rw.wait.Unlock(p)
		return
	}
	if old := rw.cnts.And(^rwWriterLocked); old&rwWriterLocked == 0 {
		contractf("Unlock", "rwlock is not write-locked")
	}
}

func (rw *RWMutex) markersActive() bool {
	for i := range rw.markers {
		if atomic.LoadInt64(&rw.markers[i].C) != 0 {
			return true
		}
	}
	return false
}

func (rw *RWMutex) waitMarkers() {
	var spins int
	for i := range rw.markers {
		for atomic.LoadInt64(&rw.markers[i].C) != 0 {
			relax(&spins)
		}
	}
}
