// Command shflstress runs a lock of this module under contention and
// prints throughput, NUMA hand-off locality and any exclusion violation.
//
// Usage:
//
//	shflstress -lock mutex -workers 16 -duration 2s
//	shflstress -lock cohort -cpus 32 -nodes 4 -threshold 64
//	shflstress -lock rw-rp -write-ratio 0.05
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/llxisdsh/shfllock"
	"github.com/llxisdsh/shfllock/internal/stress"
	"github.com/llxisdsh/shfllock/internal/topo"
)

var lockKinds = []string{"mutex", "spin", "fifo", "cohort", "rw", "rw-rp", "rw-neutral", "cohort-rw"}

type options struct {
	lock       string
	workers    int
	duration   time.Duration
	iterations int
	writeRatio float64
	hold       int
	cpus       int
	nodes      int
	interleave bool
	threshold  uint
	steal      string
	noShuffle  bool
}

func main() {
	var o options
	fs := flag.NewFlagSet("shflstress", flag.ExitOnError)
	fs.StringVar(&o.lock, "lock", "mutex", fmt.Sprintf("lock to test, one of %v", lockKinds))
	fs.IntVar(&o.workers, "workers", runtime.GOMAXPROCS(0), "number of contending goroutines")
	fs.DurationVar(&o.duration, "duration", time.Second, "run time when -iterations is 0")
	fs.IntVar(&o.iterations, "iterations", 0, "acquisitions per worker")
	fs.Float64Var(&o.writeRatio, "write-ratio", 0.1, "fraction of exclusive acquisitions for rw locks")
	fs.IntVar(&o.hold, "hold", 50, "busy iterations inside the critical section")
	fs.IntVar(&o.cpus, "cpus", 0, "synthetic cpu slots (0: detect the machine)")
	fs.IntVar(&o.nodes, "nodes", 2, "synthetic NUMA nodes, with -cpus")
	fs.BoolVar(&o.interleave, "interleave", false, "alternate synthetic nodes between neighbouring slots")
	fs.UintVar(&o.threshold, "threshold", 64, "cohort release threshold")
	fs.StringVar(&o.steal, "steal", "always", "steal policy: always, same-node, other-node, never")
	fs.BoolVar(&o.noShuffle, "no-shuffle", false, "disable waiter shuffling")
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "shflstress: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	d, err := newDomain(o)
	if err != nil {
		return err
	}
	if o.workers > d.NumCPUs() {
		return fmt.Errorf("%d workers but only %d cpu slots", o.workers, d.NumCPUs())
	}
	lock, err := newLock(d, o)
	if err != nil {
		return err
	}

	target := stress.Target[*shfllock.Proc]{
		Claim:   func(i int) (*shfllock.Proc, error) { return d.Proc(i) },
		Release: d.Put,
		Lock:    lock.Lock,
		Unlock:  lock.Unlock,
		Node:    (*shfllock.Proc).Node,
	}
	if rw, ok := lock.(shfllock.RWLocker); ok {
		target.RLock = rw.RLock
		target.RUnlock = rw.RUnlock
	}

	fmt.Printf("lock=%s workers=%d cpus=%d nodes=%d cacheline=%d\n",
		o.lock, o.workers, d.NumCPUs(), d.NumNodes(), topo.CacheLine())
	res, err := stress.Run(ctx, stress.Config{
		Workers:    o.workers,
		Duration:   o.duration,
		Iterations: o.iterations,
		WriteRatio: o.writeRatio,
		Hold:       o.hold,
	}, target)
	fmt.Println(res)
	return err
}

func newDomain(o options) (*shfllock.Domain, error) {
	if o.cpus == 0 {
		return shfllock.NewDomain()
	}
	build := shfllock.UniformTopology
	if o.interleave {
		build = shfllock.InterleavedTopology
	}
	t, err := build(o.cpus, o.nodes)
	if err != nil {
		return nil, err
	}
	return shfllock.NewDomain(shfllock.WithTopology(t))
}

func parseSteal(s string) (shfllock.StealPolicy, error) {
	for _, p := range []shfllock.StealPolicy{
		shfllock.StealAlways, shfllock.StealSameNode, shfllock.StealOtherNode, shfllock.StealNever,
	} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown steal policy %q", s)
}

func newLock(d *shfllock.Domain, o options) (shfllock.Locker, error) {
	steal, err := parseSteal(o.steal)
	if err != nil {
		return nil, err
	}
	if o.threshold == 0 || o.threshold >= 1<<30 {
		return nil, fmt.Errorf("threshold %d out of range", o.threshold)
	}
	opts := []shfllock.Option{
		shfllock.WithStealPolicy(steal),
		shfllock.WithShuffle(!o.noShuffle),
		shfllock.WithReleaseThreshold(uint32(o.threshold)),
	}
	switch o.lock {
	case "mutex":
		return shfllock.NewMutex(opts...), nil
	case "spin":
		return shfllock.NewSpinLock(opts...), nil
	case "fifo":
		return shfllock.NewMutex(append(opts, shfllock.WithShuffle(false), shfllock.WithStealPolicy(shfllock.StealNever))...), nil
	case "cohort":
		return shfllock.NewCohortMutex(d, opts...), nil
	case "rw":
		return shfllock.NewRWMutex(d, opts...), nil
	case "rw-rp":
		return shfllock.NewRWMutex(d, append(opts, shfllock.WithDiscipline(shfllock.ReaderPreferred))...), nil
	case "rw-neutral":
		rw := shfllock.NewRWMutex(d, append(opts, shfllock.WithDiscipline(shfllock.Neutral))...)
		rw.SetDistributed()
		return rw, nil
	case "cohort-rw":
		return shfllock.NewCohortRWMutex(d, opts...), nil
	}
	return nil, fmt.Errorf("unknown lock %q, want one of %v", o.lock, lockKinds)
}
