// Package topo describes which CPUs share a NUMA node.
//
// Locks never ask the operating system for the current CPU on the hot
// path; callers bind a goroutine to a CPU slot once and carry the slot's
// node id around. This package only builds the slot to node table.
package topo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxNodes bounds the node id stored in a lock word (7 bits, id+1).
const MaxNodes = 127

// Topology maps CPU slots 0..NumCPUs()-1 to NUMA nodes 0..NumNodes()-1.
type Topology struct {
	nodeOf []int
	osCPU  []int
	nodes  int
}

// NumCPUs returns the number of CPU slots.
func (t *Topology) NumCPUs() int { return len(t.nodeOf) }

// NumNodes returns the number of NUMA nodes.
func (t *Topology) NumNodes() int { return t.nodes }

// NodeOf returns the node of CPU slot cpu.
func (t *Topology) NodeOf(cpu int) int { return t.nodeOf[cpu] }

// OSCPU returns the operating-system CPU number behind slot cpu.
func (t *Topology) OSCPU(cpu int) int { return t.osCPU[cpu] }

func (t *Topology) String() string {
	return fmt.Sprintf("topo{cpus:%d nodes:%d}", len(t.nodeOf), t.nodes)
}

// Uniform returns a synthetic topology of cpus slots split into nodes
// contiguous blocks, the way most BIOSes number sockets.
func Uniform(cpus, nodes int) (*Topology, error) {
	if cpus <= 0 {
		return nil, fmt.Errorf("topo: cpus must be positive, got %d", cpus)
	}
	if nodes <= 0 || nodes > MaxNodes || nodes > cpus {
		return nil, fmt.Errorf("topo: invalid node count %d for %d cpus", nodes, cpus)
	}
	t := &Topology{
		nodeOf: make([]int, cpus),
		osCPU:  make([]int, cpus),
		nodes:  nodes,
	}
	per := (cpus + nodes - 1) / nodes
	for i := range cpus {
		t.nodeOf[i] = i / per
		t.osCPU[i] = i
	}
	// Rounding can leave trailing nodes empty; compact the count.
	t.nodes = t.nodeOf[cpus-1] + 1
	return t, nil
}

// Interleaved returns a synthetic topology where consecutive slots
// alternate between nodes (cpu i lives on node i%nodes). Useful to build
// adversarial queues in which neighbours never share a node.
func Interleaved(cpus, nodes int) (*Topology, error) {
	t, err := Uniform(cpus, nodes)
	if err != nil {
		return nil, err
	}
	for i := range cpus {
		t.nodeOf[i] = i % nodes
	}
	t.nodes = nodes
	return t, nil
}

// fromNodeLists builds a topology from the allowed OS CPUs and a map of
// node id to OS CPUs. CPUs missing from every list land on the first node.
func fromNodeLists(allowed []int, lists map[int][]int) *Topology {
	sort.Ints(allowed)
	owner := make(map[int]int, len(allowed))
	ids := make([]int, 0, len(lists))
	for id := range lists {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		for _, c := range lists[id] {
			owner[c] = id
		}
	}

	// Compact node ids to the ones that actually own an allowed CPU.
	compact := make(map[int]int)
	t := &Topology{
		nodeOf: make([]int, len(allowed)),
		osCPU:  make([]int, len(allowed)),
	}
	for i, c := range allowed {
		id, ok := owner[c]
		if !ok && len(ids) > 0 {
			id = ids[0]
		}
		n, seen := compact[id]
		if !seen {
			n = len(compact)
			if n >= MaxNodes {
				n = MaxNodes - 1
			} else {
				compact[id] = n
			}
		}
		t.nodeOf[i] = n
		t.osCPU[i] = c
	}
	t.nodes = max(len(compact), 1)
	return t
}

// ParseCPUList parses the kernel's cpulist format ("0-3,8,10-11").
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("topo: bad cpulist %q: %w", s, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("topo: bad cpulist %q: %w", s, err)
			}
		}
		if b < a {
			return nil, fmt.Errorf("topo: bad cpulist %q: descending range", s)
		}
		for c := a; c <= b; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}
