//go:build !linux

package topo

import "runtime"

// Detect returns a single-node topology sized to runtime.NumCPU; only
// Linux exposes node membership in a form we read.
func Detect() *Topology {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return fromNodeLists(cpus, nil)
}
