package shfllock

import (
	"math/bits"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/shfllock/internal/opt"
	"github.com/llxisdsh/shfllock/internal/topo"
)

const (
	// MaxCPUs bounds the number of CPU slots of one Domain.
	MaxCPUs = 1 << 14
	// DefaultNesting is how many locks one Proc may be queued on or hold
	// at the same time.
	DefaultNesting = 4
	// MaxNesting is the largest value WithMaxNesting accepts.
	MaxNesting = 8
)

// A Domain owns the queue nodes of a set of locks and the CPU slots
// (Procs) that use them. Every lock is used with Procs of a single Domain.
//
// A node is addressed by handle: cpu*nesting + depth + 1. Nothing is ever
// allocated on a lock path.
type Domain struct {
	topo    Topology
	parker  Parker
	nesting int
	nodes   []qnode
	procs   []Proc
}

// Proc is the execution context of one CPU slot: its node id, its node
// pool, and its random state. A Proc is used by one goroutine at a time;
// claim one with Domain.Get or Domain.Proc and return it with Domain.Put.
type Proc struct {
	d       *Domain
	cpu     int
	nid     int
	base    uint32
	seed    uint32
	used    uint8
	claimed atomic.Bool
}

// CPU returns the slot index of p.
func (p *Proc) CPU() int { return p.cpu }

// Node returns the NUMA node id of p.
func (p *Proc) Node() int { return p.nid }

// Domain returns the domain p belongs to.
func (p *Proc) Domain() *Domain { return p.d }

// DomainOption configures NewDomain.
type DomainOption func(*domainConfig)

type domainConfig struct {
	topo    Topology
	parker  Parker
	nesting int
}

// WithTopology sets the CPU to node map. Default: SystemTopology().
func WithTopology(t Topology) DomainOption {
	return func(c *domainConfig) {
		c.topo = t
	}
}

// WithParker replaces the default semaphore-based parker.
func WithParker(p Parker) DomainOption {
	return func(c *domainConfig) {
		c.parker = p
	}
}

// WithMaxNesting sets how many locks one Proc may hold or wait on at once.
func WithMaxNesting(n int) DomainOption {
	return func(c *domainConfig) {
		c.nesting = n
	}
}

// NewDomain builds a Domain and its node arena.
func NewDomain(opts ...DomainOption) (*Domain, error) {
	cfg := domainConfig{nesting: DefaultNesting}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.topo == nil {
		cfg.topo = SystemTopology()
	}
	if cfg.nesting < 1 || cfg.nesting > MaxNesting {
		return nil, newError(KindContract, "NewDomain",
			"nesting %d out of range [1,%d]", cfg.nesting, MaxNesting)
	}
	cpus, nodes := cfg.topo.NumCPUs(), cfg.topo.NumNodes()
	if cpus <= 0 || cpus > MaxCPUs {
		return nil, newError(KindResource, "NewDomain",
			"%d cpu slots, want 1..%d", cpus, MaxCPUs)
	}
	if nodes <= 0 || nodes > topo.MaxNodes {
		return nil, newError(KindResource, "NewDomain",
			"%d nodes, want 1..%d", nodes, topo.MaxNodes)
	}

	d := &Domain{
		topo:    cfg.topo,
		parker:  cfg.parker,
		nesting: cfg.nesting,
		nodes:   make([]qnode, cpus*cfg.nesting),
		procs:   make([]Proc, cpus),
	}
	for i := range d.nodes {
		d.nodes[i].self = uint32(i + 1)
	}
	for i := range d.procs {
		nid := cfg.topo.NodeOf(i)
		if nid < 0 || nid >= nodes {
			return nil, newError(KindContract, "NewDomain",
				"cpu %d maps to node %d, want 0..%d", i, nid, nodes-1)
		}
		p := &d.procs[i]
		p.d = d
		p.cpu = i
		p.nid = nid
		p.base = uint32(i * cfg.nesting)
		p.seed = rand.Uint32() | 1
	}
	return d, nil
}

// NumCPUs returns the number of CPU slots.
func (d *Domain) NumCPUs() int { return len(d.procs) }

// NumNodes returns the number of NUMA nodes.
func (d *Domain) NumNodes() int { return d.topo.NumNodes() }

// Topology returns the topology the domain was built with.
func (d *Domain) Topology() Topology { return d.topo }

// Proc claims slot cpu.
func (d *Domain) Proc(cpu int) (*Proc, error) {
	if cpu < 0 || cpu >= len(d.procs) {
		return nil, newError(KindContract, "Proc",
			"cpu %d out of range [0,%d)", cpu, len(d.procs))
	}
	p := &d.procs[cpu]
	if !p.claimed.CompareAndSwap(false, true) {
		return nil, newError(KindResource, "Proc", "cpu %d already claimed", cpu)
	}
	return p, nil
}

// Get claims a free slot, starting the search at the CPU the caller is
// probably running on so that neighbours end up on the same node.
func (d *Domain) Get() (*Proc, error) {
	if p := d.tryGet(); p != nil {
		return p, nil
	}
	return nil, newError(KindResource, "Get",
		"all %d cpu slots are claimed", len(d.procs))
}

func (d *Domain) tryGet() *Proc {
	n := len(d.procs)
	start := 0
	if c := topo.CurrentCPU(); c > 0 {
		start = c % n
	}
	for i := range n {
		p := &d.procs[(start+i)%n]
		if !p.claimed.Load() && p.claimed.CompareAndSwap(false, true) {
			return p
		}
	}
	return nil
}

// getWait is Get that yields until a slot frees up.
func (d *Domain) getWait() *Proc {
	for {
		if p := d.tryGet(); p != nil {
			return p
		}
		runtime.Gosched()
	}
}

// Put returns p to d. p must not hold or wait on any lock.
func (d *Domain) Put(p *Proc) {
	if p == nil || p.d != d {
		contractf("Put", "proc does not belong to this domain")
	}
	if p.used != 0 {
		contractf("Put", "cpu %d still holds %d lock nodes", p.cpu, bits.OnesCount8(p.used))
	}
	if !p.claimed.CompareAndSwap(true, false) {
		contractf("Put", "cpu %d was not claimed", p.cpu)
	}
}

func (d *Domain) node(h uint32) *qnode {
	if opt.Debug_ && (h == 0 || int(h) > len(d.nodes)) {
		contractf("node", "bad handle %d", h)
	}
	return &d.nodes[h-1]
}

// acquireNode takes a free node from p's pool.
func (p *Proc) acquireNode(op string) uint32 {
	if opt.Debug_ && !p.claimed.Load() {
		contractf(op, "cpu %d is used after Put", p.cpu)
	}
	free := ^p.used
	if p.d.nesting < 8 {
		free &= 1<<p.d.nesting - 1
	}
	if free == 0 {
		contractf(op, "cpu %d is nested deeper than %d locks", p.cpu, p.d.nesting)
	}
	i := bits.TrailingZeros8(free)
	p.used |= 1 << i
	return p.base + uint32(i) + 1
}

func (p *Proc) releaseNode(op string, h uint32) {
	i := h - 1 - p.base
	if h == 0 || i >= uint32(p.d.nesting) || p.used&(1<<i) == 0 {
		contractf(op, "node %d is not held by cpu %d", h, p.cpu)
	}
	p.used &^= 1 << i
}

// owns reports whether node h belongs to p's pool and is in use.
func (p *Proc) owns(h uint32) bool {
	i := h - 1 - p.base
	return h != 0 && i < uint32(p.d.nesting) && p.used&(1<<i) != 0
}

// probably returns false with probability 1/n (n a power of two).
func (p *Proc) probably(n uint32) bool {
	p.seed = xorshift(p.seed)
	return p.seed&(n-1) != 0
}

// Locker is the lock shape shared by every lock in this package.
type Locker interface {
	Lock(p *Proc)
	TryLock(p *Proc) bool
	Unlock(p *Proc)
}

// RWLocker adds shared acquisition to Locker.
type RWLocker interface {
	Locker
	RLock(p *Proc)
	TryRLock(p *Proc) bool
	RUnlock(p *Proc)
}

var (
	_ Locker   = (*Mutex)(nil)
	_ Locker   = (*CohortMutex)(nil)
	_ RWLocker = (*RWMutex)(nil)
	_ RWLocker = (*CohortRWMutex)(nil)
)

// Locker adapts l to sync.Locker. Lock claims a Proc from d for the
// duration of the critical section, waiting for one if every slot is
// busy.
func (d *Domain) Locker(l Locker) sync.Locker {
	return &procLocker{d: d, l: l}
}

type procLocker struct {
	d      *Domain
	l      Locker
	holder atomic.Pointer[Proc]
}

func (pl *procLocker) Lock() {
	p := pl.d.getWait()
	pl.l.Lock(p)
	pl.holder.Store(p)
}

func (pl *procLocker) Unlock() {
	p := pl.holder.Swap(nil)
	if p == nil {
		contractf("Unlock", "sync.Locker is not locked")
	}
	pl.l.Unlock(p)
	pl.d.Put(p)
}

// TryAcquire is TryLock reporting failure as an error of KindContention.
func TryAcquire(l Locker, p *Proc) error {
	if l.TryLock(p) {
		return nil
	}
	return newError(KindContention, "TryAcquire", "lock is held")
}
