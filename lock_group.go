package shfllock

import (
	"github.com/llxisdsh/pb"
)

// MutexGroup allows locking on arbitrary keys (string, int, struct, etc.).
// Each key gets its own Mutex, created on first Lock and dropped when the
// last holder or waiter unlocks it.
//
// Usage:
//
//	g := NewMutexGroup[string]()
//	g.Lock(p, "user-123")
//	// Critical section for user-123
//	g.Unlock(p, "user-123")
type MutexGroup[K comparable] struct {
	_    noCopy
	m    pb.MapOf[K, *mutexGroupEntry]
	opts *Options
}

type mutexGroupEntry struct {
	mu  Mutex
	ref int32
}

// NewMutexGroup returns an empty group whose mutexes use opts.
func NewMutexGroup[K comparable](opts ...Option) *MutexGroup[K] {
	return &MutexGroup[K]{opts: buildOptions(opts)}
}

// Lock acquires the mutex of k.
func (g *MutexGroup[K]) Lock(p *Proc, k K) {
	v, _ := g.m.ProcessEntry(
		k,
		func(e *pb.EntryOf[K, *mutexGroupEntry]) (*pb.EntryOf[K, *mutexGroupEntry], *mutexGroupEntry, bool) {
			if e != nil {
				e.Value.ref++
				return e, e.Value, true
			}
			v := &mutexGroupEntry{ref: 1}
			v.mu.opts = g.opts
			return &pb.EntryOf[K, *mutexGroupEntry]{Value: v}, v, false
		},
	)
	v.mu.Lock(p)
}

// Unlock releases the mutex of k.
func (g *MutexGroup[K]) Unlock(p *Proc, k K) {
	v, ok := g.m.Load(k)
	if !ok {
		contractf("Unlock", "key is not locked")
	}
	v.mu.Unlock(p)

	g.m.ProcessEntry(
		k,
		func(e *pb.EntryOf[K, *mutexGroupEntry]) (*pb.EntryOf[K, *mutexGroupEntry], *mutexGroupEntry, bool) {
			if e == nil {
				return nil, nil, false
			}
			e.Value.ref--
			if e.Value.ref <= 0 {
				return nil, nil, true
			}
			return e, e.Value, true
		},
	)
}

// Len returns the number of keys currently locked or waited on.
func (g *MutexGroup[K]) Len() int {
	n := 0
	g.m.Range(func(K, *mutexGroupEntry) bool {
		n++
		return true
	})
	return n
}
