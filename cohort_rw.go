package shfllock

// CohortRWMutex is a CohortMutex for writers plus a reader count per NUMA
// node. Readers stay off the queues entirely: they wait for the global
// queue to empty, announce themselves on their node's counter and check
// again. Writers take the cohort lock, then wait for every counter to
// drain. Readers therefore yield to writers, queued or active.
type CohortRWMutex struct {
	CohortMutex
}

// NewCohortRWMutex returns an unlocked CohortRWMutex for Procs of d.
func NewCohortRWMutex(d *Domain, opts ...Option) *CohortRWMutex {
	o := buildOptions(opts)
	return &CohortRWMutex{CohortMutex: CohortMutex{
		d:         d,
		threshold: o.releaseThreshold,
		sockets:   make([]cohortSocket, d.NumNodes()),
	}}
}

// Lock acquires c for writing.
func (c *CohortRWMutex) Lock(p *Proc) {
	c.CohortMutex.Lock(p)
	c.waitReaders()
}

// TryLock acquires c for writing if neither writers nor readers are
// present.
func (c *CohortRWMutex) TryLock(p *Proc) bool {
	if c.readersActive() || !c.CohortMutex.TryLock(p) {
		return false
	}
	if c.readersActive() {
		c.CohortMutex.Unlock(p)
		return false
	}
	return true
}

// Unlock releases the write lock.
func (c *CohortRWMutex) Unlock(p *Proc) {
	c.CohortMutex.Unlock(p)
}

func (c *CohortRWMutex) readersActive() bool {
	for i := range c.sockets {
		if c.sockets[i].readers.Load() != 0 {
			return true
		}
	}
	return false
}

func (c *CohortRWMutex) waitReaders() {
	var spins int
	for i := range c.sockets {
		for c.sockets[i].readers.Load() != 0 {
			relax(&spins)
		}
	}
}

// RLock acquires c for reading.
func (c *CohortRWMutex) RLock(p *Proc) {
	c.checkProc("RLock", p)
	s := &c.sockets[p.nid]
	var spins int
	for {
		for c.gtail.Load() != 0 {
			relax(&spins)
		}
		s.readers.Add(1)
		if c.gtail.Load() == 0 {
			return
		}
		s.readers.Add(-1)
	}
}

// TryRLock acquires c for reading if no writer holds or waits for it.
func (c *CohortRWMutex) TryRLock(p *Proc) bool {
	c.checkProc("TryRLock", p)
	if c.gtail.Load() != 0 {
		return false
	}
	s := &c.sockets[p.nid]
	s.readers.Add(1)
	if c.gtail.Load() == 0 {
		return true
	}
	s.readers.Add(-1)
	return false
}

// RUnlock releases a read lock taken with the same Proc.
func (c *CohortRWMutex) RUnlock(p *Proc) {
	if c.sockets[p.nid].readers.Add(-1) < 0 {
		contractf("RUnlock", "cohort rwlock is not read-locked on node %d", p.nid)
	}
}
