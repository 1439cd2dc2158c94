package opt

import (
	_ "unsafe" // for linkname
)

// Sema is a zero-allocation semaphore used to park lock waiters.
// It is a direct wrapper around runtime.semacquire/semrelease, so a Release
// that happens before the matching Acquire is never lost.
type Sema uint32

func (s *Sema) Acquire() {
	runtime_semacquire((*uint32)(s))
}

func (s *Sema) Release() {
	runtime_semrelease((*uint32)(s), false, 0)
}

//go:linkname runtime_semacquire sync.runtime_Semacquire
func runtime_semacquire(s *uint32)

//go:linkname runtime_semrelease sync.runtime_Semrelease
func runtime_semrelease(s *uint32, handoff bool, skipframes int)

//go:linkname runtime_canSpin sync.runtime_canSpin
func runtime_canSpin(i int) bool

//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()

// CanSpin reports whether active spinning makes sense at iteration i.
func CanSpin(i int) bool { return runtime_canSpin(i) }

// DoSpin executes a short PAUSE-style busy loop.
func DoSpin() { runtime_doSpin() }
