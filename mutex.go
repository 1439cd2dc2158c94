package shfllock

import (
	"sync/atomic"
)

// Mutex is a NUMA-aware queue lock.
//
// Acquisition first tries to steal the free lock with one CAS. Failing
// that, the caller joins an MCS queue of nodes taken from its Proc. The
// waiter at the head of the queue spins on the lock word while waiters
// behind it regroup the queue so that consecutive owners share a NUMA
// node ("shuffling"). Waiters that are not shuffling park after a while.
//
// Unlock is a single atomic AND: ownership is never handed to a queued
// waiter directly, the head waiter takes it with a CAS.
//
// The zero value is an unlocked Mutex with default options.
//
// State layout (32 bits):
//
//	bits 0-7   locked byte
//	bit  8     no-stealing
//	bits 9-15  node id + 1 of the last owner (0: unknown)
type Mutex struct {
	_     noCopy
	state atomic.Uint32
	tail  atomic.Uint32
	// shuffle is the shuffle token: bit 0 busy, bits 1.. generation.
	shuffle atomic.Uint32
	opts    *Options
}

const (
	lockedMask   uint32 = 0xff
	lockedVal    uint32 = 1
	noStealBit   uint32 = 1 << 8
	holderShift         = 9
	holderMask   uint32 = 0x7f << holderShift
	noHolderNode        = -1
)

// NewMutex returns an unlocked Mutex.
func NewMutex(opts ...Option) *Mutex {
	return &Mutex{opts: buildOptions(opts)}
}

// NewSpinLock returns a Mutex whose waiters never park.
func NewSpinLock(opts ...Option) *Mutex {
	return NewMutex(append([]Option{WithParking(false)}, opts...)...)
}

// Init resets m to the unlocked state. It must not be used while any
// goroutine holds or waits for m.
func (m *Mutex) Init() {
	m.state.Store(0)
	m.tail.Store(0)
	m.shuffle.Store(0)
}

func (m *Mutex) options() *Options {
	if m.opts == nil {
		return &defaultOptions
	}
	return m.opts
}

func holderOf(s uint32) int {
	return int((s&holderMask)>>holderShift) - 1
}

func withHolder(s uint32, nid int) uint32 {
	return s&^holderMask | uint32(nid+1)<<holderShift | lockedVal
}

// IsLocked reports whether m is held. The answer may be stale.
func (m *Mutex) IsLocked() bool {
	return m.state.Load()&lockedMask != 0
}

// isBusy reports whether m is held or has queued waiters.
func (m *Mutex) isBusy() bool {
	return m.state.Load()&lockedMask != 0 || m.tail.Load() != 0
}

// TryLock acquires m if that is possible without waiting.
func (m *Mutex) TryLock(p *Proc) bool {
	return m.tryFastLock(p.nid, m.options().steal)
}

func (m *Mutex) tryFastLock(nid int, policy StealPolicy) bool {
	s := m.state.Load()
	if s&(lockedMask|noStealBit) != 0 {
		return false
	}
	switch policy {
	case StealSameNode:
		if h := holderOf(s); h != noHolderNode && h != nid {
			return false
		}
	case StealOtherNode:
		if holderOf(s) == nid {
			return false
		}
	case StealNever:
		if m.tail.Load() != 0 {
			return false
		}
	}
	return m.state.CompareAndSwap(s, withHolder(s, nid))
}

// Lock acquires m, waiting if needed.
func (m *Mutex) Lock(p *Proc) {
	o := m.options()
	if m.tryFastLock(p.nid, o.steal) {
		return
	}
	m.lockSlow(p, o)
}

func (m *Mutex) lockSlow(p *Proc, o *Options) {
	d := p.d
	h := p.acquireNode("Lock")
	node := d.node(h)
	node.prepare(p.nid)

	if prev := m.tail.Swap(h); prev != 0 {
		d.node(prev).next.Store(h)
		m.waitForGrant(p, node, o)
	}

	// Head of the queue. Get the successor spinning so it is not asleep
	// when it becomes the head.
	if next := node.next.Load(); next != 0 {
		d.forceUnpark(d.node(next))
	}
	var spins int
	for m.state.Load()&lockedMask != 0 {
		if o.shuffle && (node.wcount.Load() == 0 || node.sleader.Load()) {
			m.shuffleWaiters(p, node, o, true)
		}
		relax(&spins)
	}
	m.acquireAsHead(p, o)
	m.passHead(p, h, node)
	p.releaseNode("Lock", h)
}

// waitForGrant spins, shuffles and parks until the predecessor makes node
// the head of the queue.
func (m *Mutex) waitForGrant(p *Proc, node *qnode, o *Options) {
	var spins, polls int
	for {
		st := node.status.Load()
		if st == statusLocked {
			return
		}
		if o.shuffle && node.sleader.Load() {
			m.shuffleWaiters(p, node, o, false)
			polls = 0
		} else if o.park && st == statusWaiting && polls >= o.spinThreshold {
			if node.status.CompareAndSwap(statusWaiting, statusParked) {
				p.d.park(node)
			}
			polls = 0
			continue
		}
		polls++
		relax(&spins)
	}
}

// acquireAsHead takes the lock word for the head waiter. Each time a
// stealer beats it the patience shrinks; at zero stealing is disabled
// until the queue drains or crosses nodes.
func (m *Mutex) acquireAsHead(p *Proc, o *Options) {
	patience := o.patience
	var spins int
	for {
		if patience == 0 && m.state.Load()&noStealBit == 0 {
			m.state.Or(noStealBit)
		}
		if s := m.state.Load(); s&lockedMask == 0 {
			if m.state.CompareAndSwap(s, withHolder(s, p.nid)) {
				return
			}
			continue
		}
		for m.state.Load()&lockedMask != 0 {
			relax(&spins)
		}
		if patience > 0 {
			patience--
		}
	}
}

// passHead makes the successor of node the new head, or empties the
// queue.
func (m *Mutex) passHead(p *Proc, h uint32, node *qnode) {
	d := p.d
	next := node.next.Load()
	if next == 0 {
		if m.tail.CompareAndSwap(h, 0) {
			m.enableStealing()
			return
		}
		var spins int
		for next = node.next.Load(); next == 0; next = node.next.Load() {
			relax(&spins)
		}
	}
	nn := d.node(next)
	if int(nn.nid.Load()) != p.nid {
		m.enableStealing()
	}
	d.grant(nn)
}

func (m *Mutex) enableStealing() {
	if m.state.Load()&noStealBit != 0 {
		m.state.And(^noStealBit)
	}
}

// Unlock releases m. Unlocking an unlocked Mutex panics with an *Error of
// KindContract.
func (m *Mutex) Unlock(p *Proc) {
	if old := m.state.And(^lockedMask); old&lockedMask == 0 {
		contractf("Unlock", "mutex is not locked")
	}
}
