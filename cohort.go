package shfllock

import (
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/shfllock/internal/opt"
)

// Local status words of a cohort waiter (qnode.batch). Values in
// [1, cohortAcquireParent) are the batch count handed over by the
// previous local owner, who already holds the global lock for us.
const (
	cohortWait          uint32 = 1 << 30
	cohortAcquireParent uint32 = cohortWait - 1
	cohortFirst         uint32 = 1
)

// Global queue status of a socket.
const (
	globalWaiting uint32 = iota
	globalLocked
)

type cohortSocketBody struct {
	qtail   atomic.Uint32 // tail of the local MCS queue (node handle)
	gnext   atomic.Uint32 // successor socket in the global queue, id+1
	gstatus atomic.Uint32
	readers atomic.Int64 // CohortRWMutex readers on this socket
}

type cohortSocket struct {
	cohortSocketBody
	_ [(opt.CacheLineSize_ - unsafe.Sizeof(cohortSocketBody{})%opt.CacheLineSize_) % opt.CacheLineSize_]byte
}

// CohortMutex is a two-level lock: an MCS queue per NUMA node and a global
// MCS queue of nodes. The owner passes the lock to a waiter on its own
// node while it can, up to the release threshold, without touching the
// global lock. Then the global lock moves to the next node in line.
type CohortMutex struct {
	_         noCopy
	d         *Domain
	threshold uint32
	gtail     atomic.Uint32 // tail of the global queue, socket id+1
	serving   atomic.Uint32 // socket id+1 owning the global lock
	holder    atomic.Uint32 // node handle of the current owner
	sockets   []cohortSocket
}

// NewCohortMutex returns an unlocked CohortMutex for Procs of d.
// Only WithReleaseThreshold is meaningful here.
func NewCohortMutex(d *Domain, opts ...Option) *CohortMutex {
	o := buildOptions(opts)
	return &CohortMutex{
		d:         d,
		threshold: o.releaseThreshold,
		sockets:   make([]cohortSocket, d.NumNodes()),
	}
}

// IsLocked reports whether the global lock is held or queued for.
func (c *CohortMutex) IsLocked() bool {
	return c.gtail.Load() != 0
}

func (c *CohortMutex) checkProc(op string, p *Proc) {
	if p.d != c.d {
		contractf(op, "proc belongs to another domain")
	}
}

// Lock acquires c.
func (c *CohortMutex) Lock(p *Proc) {
	c.checkProc("Lock", p)
	s := &c.sockets[p.nid]
	h := p.acquireNode("Lock")
	n := c.d.node(h)
	n.next.Store(0)
	n.batch.Store(cohortWait)

	if prev := s.qtail.Swap(h); prev != 0 {
		c.d.node(prev).next.Store(h)
		var spins int
		st := n.batch.Load()
		for ; st == cohortWait; st = n.batch.Load() {
			relax(&spins)
		}
		if st < cohortAcquireParent {
			// Our predecessor left the global lock to us.
			c.holder.Store(h)
			return
		}
	}
	n.batch.Store(cohortFirst)
	c.acquireGlobal(p.nid)
	c.serving.Store(uint32(p.nid) + 1)
	c.holder.Store(h)
}

// TryLock acquires c only if both levels are free.
func (c *CohortMutex) TryLock(p *Proc) bool {
	c.checkProc("TryLock", p)
	s := &c.sockets[p.nid]
	if s.qtail.Load() != 0 || c.gtail.Load() != 0 {
		return false
	}
	h := p.acquireNode("TryLock")
	n := c.d.node(h)
	n.next.Store(0)
	n.batch.Store(cohortFirst)
	if !s.qtail.CompareAndSwap(0, h) {
		p.releaseNode("TryLock", h)
		return false
	}
	me := uint32(p.nid) + 1
	s.gnext.Store(0)
	s.gstatus.Store(globalWaiting)
	if c.gtail.CompareAndSwap(0, me) {
		s.gstatus.Store(globalLocked)
		c.serving.Store(me)
		c.holder.Store(h)
		return true
	}
	// Someone may have queued behind us locally; they take over the
	// global acquisition.
	c.releaseLocal(s, h, n)
	p.releaseNode("TryLock", h)
	return false
}

// Unlock releases c. It must be called with the Proc that locked it.
func (c *CohortMutex) Unlock(p *Proc) {
	h := c.holder.Load()
	if c.gtail.Load() == 0 || !p.owns(h) {
		contractf("Unlock", "cohort lock is not held by cpu %d", p.cpu)
	}
	n := c.d.node(h)
	sid := int(c.serving.Load()) - 1
	s := &c.sockets[sid]
	count := n.batch.Load()

	if count < c.threshold {
		if next := n.next.Load(); next != 0 {
			c.d.node(next).batch.Store(count + 1)
			p.releaseNode("Unlock", h)
			return
		}
	}
	c.releaseGlobal(sid)
	c.releaseLocal(s, h, n)
	p.releaseNode("Unlock", h)
}

func (c *CohortMutex) acquireGlobal(sid int) {
	s := &c.sockets[sid]
	me := uint32(sid) + 1
	s.gnext.Store(0)
	s.gstatus.Store(globalWaiting)
	prev := c.gtail.Swap(me)
	if prev == 0 {
		s.gstatus.Store(globalLocked)
		return
	}
	c.sockets[prev-1].gnext.Store(me)
	var spins int
	for s.gstatus.Load() == globalWaiting {
		relax(&spins)
	}
}

func (c *CohortMutex) releaseGlobal(sid int) {
	s := &c.sockets[sid]
	next := s.gnext.Load()
	if next == 0 {
		if c.gtail.CompareAndSwap(uint32(sid)+1, 0) {
			return
		}
		var spins int
		for next = s.gnext.Load(); next == 0; next = s.gnext.Load() {
			relax(&spins)
		}
	}
	c.sockets[next-1].gstatus.Store(globalLocked)
}

func (c *CohortMutex) releaseLocal(s *cohortSocket, h uint32, n *qnode) {
	next := n.next.Load()
	if next == 0 {
		if s.qtail.CompareAndSwap(h, 0) {
			return
		}
		var spins int
		for next = n.next.Load(); next == 0; next = n.next.Load() {
			relax(&spins)
		}
	}
	c.d.node(next).batch.Store(cohortAcquireParent)
}

// batchCount is the local hand-off count of the current owner, 1 right
// after a global acquisition.
func (c *CohortMutex) batchCount() uint32 {
	return c.d.node(c.holder.Load()).batch.Load()
}
