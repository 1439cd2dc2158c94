package shfllock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDomain(t testing.TB, cpus, nodes int, opts ...DomainOption) *Domain {
	t.Helper()
	topo, err := UniformTopology(cpus, nodes)
	require.NoError(t, err)
	d, err := NewDomain(append([]DomainOption{WithTopology(topo)}, opts...)...)
	require.NoError(t, err)
	return d
}

func newInterleavedDomain(t testing.TB, cpus, nodes int, opts ...DomainOption) *Domain {
	t.Helper()
	topo, err := InterleavedTopology(cpus, nodes)
	require.NoError(t, err)
	d, err := NewDomain(append([]DomainOption{WithTopology(topo)}, opts...)...)
	require.NoError(t, err)
	return d
}

func mustProc(t testing.TB, d *Domain, cpu int) *Proc {
	t.Helper()
	p, err := d.Proc(cpu)
	require.NoError(t, err)
	return p
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// nextHandle is the handle Proc p will use for its next lock node.
func nextHandle(p *Proc) uint32 {
	h := p.acquireNode("test")
	p.releaseNode("test", h)
	return h
}

func requireContract(t testing.TB, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, ErrContract)
	}()
	fn()
}
