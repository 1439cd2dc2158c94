package topo

import (
	"github.com/klauspost/cpuid/v2"
)

// CurrentCPU returns a best-effort guess of the logical CPU the calling
// goroutine runs on, or -1 when the processor does not report it.
//
// The value may be stale as soon as it is returned (goroutines migrate),
// so it is only ever used as a locality hint, never for correctness.
func CurrentCPU() int {
	return cpuid.CPU.LogicalCPU()
}

// CacheLine returns the L1 data cache line size reported by CPUID, or 0.
func CacheLine() int {
	return cpuid.CPU.CacheLine
}
