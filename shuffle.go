package shfllock

// Shuffling regroups queued waiters so that those on the shuffler's NUMA
// node sit next to each other right behind it. Only one waiter, the
// shuffle leader, scans at a time; the role moves down the queue with
// every pass. The head waiter shuffles once on its own while it spins.
//
// Passes are serialized per lock by a token. Each pass bumps the token's
// generation, and a resume point recorded by one pass is only trusted by
// the very next one: any other pass in between may have moved nodes
// around it.

const shuffleBusy uint32 = 1

func (m *Mutex) tryShuffleToken() (gen uint32, ok bool) {
	s := m.shuffle.Load()
	if s&shuffleBusy != 0 || !m.shuffle.CompareAndSwap(s, s|shuffleBusy) {
		return 0, false
	}
	return s >> 1, true
}

func (m *Mutex) releaseShuffleToken(gen uint32) {
	m.shuffle.Store((gen + 1) << 1)
}

// shuffleWaiters runs one shuffle pass for node. isNextWaiter is true when
// node is the head of the queue, spinning on the lock word.
func (m *Mutex) shuffleWaiters(p *Proc, node *qnode, o *Options, isNextWaiter bool) {
	gen, ok := m.tryShuffleToken()
	if !ok {
		return
	}
	defer m.releaseShuffleToken(gen)

	d := p.d
	self := node.self
	prev := self
	if h, g := unpackVisited(node.lastVisited.Load()); h != 0 && g == gen {
		prev = h
	}
	last := self
	nid := node.nid.Load()

	var leader, qend uint32
	wcount := node.wcount.Load()
	if wcount == 0 {
		wcount = 1
		node.wcount.Store(wcount)
	}
	node.sleader.Store(false)

	if !p.probably(o.shuffleProb) {
		m.setLeader(d, node.next.Load(), 0, gen)
		return
	}

	var shuffled int
	for {
		curr := d.node(prev).next.Load()
		if curr == 0 || curr == m.tail.Load() {
			leader, qend = last, prev
			break
		}
		cn := d.node(curr)
		if cn.nid.Load() == nid {
			pn := d.node(prev)
			if pn.nid.Load() == nid {
				// Already adjacent to the group.
				cn.wcount.Store(wcount)
				last, prev = curr, curr
			} else {
				next := cn.next.Load()
				if next == 0 {
					leader = last
					break
				}
				cn.wcount.Store(wcount)
				ln := d.node(last)
				pn.next.Store(next)
				cn.next.Store(ln.next.Load())
				ln.next.Store(curr)
				last = curr
			}
			d.forceUnpark(cn)
			shuffled++
		} else {
			prev = curr
		}

		if isNextWaiter {
			if (shuffled > 0 && m.state.Load()&lockedMask == 0) || shuffled >= maxContShuffled {
				leader, qend = last, prev
				break
			}
		} else if node.status.Load() == statusLocked {
			leader, qend = last, prev
			break
		}
	}
	m.setLeader(d, leader, qend, gen)
}

// setLeader hands the shuffle role to leader, telling it where this pass
// stopped so it can skip what was already grouped.
func (m *Mutex) setLeader(d *Domain, leader, qend, gen uint32) {
	if leader == 0 {
		return
	}
	ln := d.node(leader)
	if qend != 0 && qend != leader {
		ln.lastVisited.Store(packVisited(qend, gen+1))
	}
	ln.sleader.Store(true)
	d.forceUnpark(ln)
}
