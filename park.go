package shfllock

import (
	"github.com/llxisdsh/pb"
)

// WaiterHandle identifies a queue node to a Parker. Handles are stable for
// the life of a Domain and at most one Park is outstanding per handle.
type WaiterHandle uint32

// Parker blocks and wakes queued waiters. Unpark(h) may run before the
// matching Park(h); the wakeup must not be lost.
type Parker interface {
	Park(h WaiterHandle)
	Unpark(h WaiterHandle)
}

func (d *Domain) park(n *qnode) {
	if d.parker != nil {
		d.parker.Park(WaiterHandle(n.self))
		return
	}
	n.sema.Acquire()
}

func (d *Domain) unpark(n *qnode) {
	if d.parker != nil {
		d.parker.Unpark(WaiterHandle(n.self))
		return
	}
	n.sema.Release()
}

// forceUnpark moves a waiter to statusUnparked, waking it if it was
// asleep. A granted waiter is left alone.
func (d *Domain) forceUnpark(n *qnode) {
	if n.status.CompareAndSwap(statusWaiting, statusUnparked) {
		return
	}
	if n.status.CompareAndSwap(statusParked, statusUnparked) {
		d.unpark(n)
	}
}

// grant makes n the head of the queue. The caller still holds the lock,
// so a parked n is woken without handing it the processor.
func (d *Domain) grant(n *qnode) {
	if n.status.Swap(statusLocked) == statusParked {
		d.unpark(n)
	}
}

// ChanParker is a Parker built on one buffered channel per handle, for
// callers that want to observe or interpose on blocking. Channels are
// created on first use and kept.
type ChanParker struct {
	m pb.MapOf[WaiterHandle, chan struct{}]
}

func (c *ChanParker) ch(h WaiterHandle) chan struct{} {
	if ch, ok := c.m.Load(h); ok {
		return ch
	}
	ch, _ := c.m.LoadOrStore(h, make(chan struct{}, 1))
	return ch
}

func (c *ChanParker) Park(h WaiterHandle) {
	<-c.ch(h)
}

func (c *ChanParker) Unpark(h WaiterHandle) {
	c.ch(h) <- struct{}{}
}
