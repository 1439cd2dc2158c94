package shfllock

import (
	"github.com/llxisdsh/shfllock/internal/topo"
)

// Topology tells a Domain how many CPU slots it has and which NUMA node
// each slot belongs to. Slots are dense: 0..NumCPUs()-1, and so are nodes.
type Topology interface {
	NumCPUs() int
	NumNodes() int
	NodeOf(cpu int) int
}

// SystemTopology returns the machine's topology as reported by the
// operating system, restricted to the CPUs this process may run on.
// Platforms without NUMA information get a single node.
func SystemTopology() Topology {
	return topo.Detect()
}

// UniformTopology returns a synthetic topology of cpus slots split into
// nodes contiguous blocks. It is what tests and benchmarks use to model a
// multi-socket machine on any host.
func UniformTopology(cpus, nodes int) (Topology, error) {
	t, err := topo.Uniform(cpus, nodes)
	if err != nil {
		return nil, newError(KindContract, "UniformTopology", "%v", err)
	}
	return t, nil
}

// InterleavedTopology is like UniformTopology but assigns slot i to node
// i%nodes, so neighbouring slots land on different nodes.
func InterleavedTopology(cpus, nodes int) (Topology, error) {
	t, err := topo.Interleaved(cpus, nodes)
	if err != nil {
		return nil, newError(KindContract, "InterleavedTopology", "%v", err)
	}
	return t, nil
}
