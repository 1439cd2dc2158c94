package shfllock

import (
	"runtime"

	"github.com/llxisdsh/shfllock/internal/opt"
)

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if opt.CanSpin(*spins) {
		*spins++
		opt.DoSpin()
		return true
	}
	return false
}

// relax is the cpu_relax of this package: a few PAUSE loops while the
// runtime thinks spinning is worthwhile, then a yield so the lock holder
// can run even when waiters outnumber Ps.
func relax(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	runtime.Gosched()
}

// xorshift32, https://en.wikipedia.org/wiki/Xorshift
func xorshift(v uint32) uint32 {
	v ^= v << 6
	v ^= v >> 21
	v ^= v << 7
	return v
}

func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }
