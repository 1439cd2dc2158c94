package shfllock

import (
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/shfllock/internal/opt"
)

// Waiter status, in the order a queued waiter normally walks through them.
// A waiter only blocks in statusParked; whoever moves it out of that state
// owes it exactly one wakeup.
const (
	statusParked   uint32 = 0
	statusWaiting  uint32 = 1
	statusUnparked uint32 = 2
	statusLocked   uint32 = 4
)

// qnodeBody is one queue node. Nodes never move: the queue links them by
// handle (index+1 into Domain.nodes), 0 meaning "none".
type qnodeBody struct {
	next   atomic.Uint32 // handle of the successor
	status atomic.Uint32 // statusXxx for Mutex waiters
	// wcount is the shuffle round this waiter was last grouped in; a head
	// waiter with wcount==0 has never been shuffled and shuffles itself.
	wcount  atomic.Uint32
	nid     atomic.Int32
	sleader atomic.Bool
	// lastVisited is handle | generation<<32, where a previous shuffle
	// pass stopped. Only valid while the lock's shuffle generation matches.
	lastVisited atomic.Uint64
	// batch is the local status word of a CohortMutex waiter.
	batch atomic.Uint32
	self  uint32
	sema  opt.Sema
}

type qnode struct {
	qnodeBody
	_ [(opt.CacheLineSize_ - unsafe.Sizeof(qnodeBody{})%opt.CacheLineSize_) % opt.CacheLineSize_]byte
}

// prepare resets a node before it is published in a queue.
func (n *qnode) prepare(nid int) {
	n.next.Store(0)
	n.wcount.Store(0)
	n.sleader.Store(false)
	n.lastVisited.Store(0)
	n.nid.Store(int32(nid))
	n.status.Store(statusWaiting)
}

func packVisited(h, gen uint32) uint64 { return uint64(h) | uint64(gen)<<32 }

func unpackVisited(v uint64) (h, gen uint32) { return uint32(v), uint32(v >> 32) }
