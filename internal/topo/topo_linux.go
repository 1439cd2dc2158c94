//go:build linux

package topo

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const sysNodeDir = "/sys/devices/system/node"

// Detect reads the machine topology. CPUs are the ones this process may run
// on; node membership comes from sysfs. Any failure degrades to a single
// node, which turns every NUMA-aware path into a plain queue lock.
func Detect() *Topology {
	return detect(sysNodeDir)
}

func detect(root string) *Topology {
	allowed := allowedCPUs()
	lists := make(map[int][]int)
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, "node") {
				continue
			}
			id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
			if err != nil {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(root, name, "cpulist"))
			if err != nil {
				continue
			}
			cpus, err := ParseCPUList(string(raw))
			if err != nil || len(cpus) == 0 {
				continue
			}
			lists[id] = cpus
		}
	}
	return fromNodeLists(allowed, lists)
}

func allowedCPUs() []int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil && set.Count() > 0 {
		cpus := make([]int, 0, set.Count())
		for c := 0; len(cpus) < set.Count() && c < len(set)*64; c++ {
			if set.IsSet(c) {
				cpus = append(cpus, c)
			}
		}
		return cpus
	}
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}
