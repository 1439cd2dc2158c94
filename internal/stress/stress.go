// Package stress hammers a lock from many goroutines and checks mutual
// exclusion while it does.
//
// It knows nothing about the lock types; a Target wires in the claim,
// lock and unlock functions, so the same driver serves the tests and the
// shflstress command.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrExclusion is returned when two owners were observed inside the
// critical section at once.
var ErrExclusion = errors.New("stress: mutual exclusion violated")

// Target describes the lock under test. P is the per-worker context, for
// example a *shfllock.Proc.
type Target[P any] struct {
	// Claim gives worker i its context.
	Claim func(i int) (P, error)
	// Release returns the context. Optional.
	Release func(P)
	Lock    func(P)
	Unlock  func(P)
	// RLock and RUnlock are set for reader-writer locks.
	RLock   func(P)
	RUnlock func(P)
	// Node reports the NUMA node of a context. Optional; enables the
	// locality figures of the Result.
	Node func(P) int
}

// Config controls a run.
type Config struct {
	Workers int
	// Duration bounds the run when Iterations is 0.
	Duration time.Duration
	// Iterations per worker. When set the run ends after exactly
	// Workers*Iterations acquisitions.
	Iterations int
	// WriteRatio is the fraction of exclusive acquisitions for
	// reader-writer targets, in [0,1].
	WriteRatio float64
	// Hold is a number of busy iterations spent inside the critical
	// section.
	Hold int
}

// Result summarizes a run.
type Result struct {
	Writes     uint64
	Reads      uint64
	Violations uint64
	// NodeSwitches counts exclusive hand-offs between owners on different
	// nodes.
	NodeSwitches uint64
	PerWorker    []uint64
	Elapsed      time.Duration
}

// Ops is the total number of acquisitions.
func (r Result) Ops() uint64 { return r.Writes + r.Reads }

// Throughput is acquisitions per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops()) / r.Elapsed.Seconds()
}

func (r Result) String() string {
	return fmt.Sprintf("ops=%d writes=%d reads=%d switches=%d violations=%d elapsed=%v (%.0f ops/s)",
		r.Ops(), r.Writes, r.Reads, r.NodeSwitches, r.Violations, r.Elapsed, r.Throughput())
}

// Run drives t with cfg until the iterations are done, the duration has
// passed or ctx is cancelled.
func Run[P any](ctx context.Context, cfg Config, t Target[P]) (Result, error) {
	if cfg.Workers <= 0 {
		return Result{}, fmt.Errorf("stress: workers must be positive, got %d", cfg.Workers)
	}
	if t.Claim == nil || t.Lock == nil || t.Unlock == nil {
		return Result{}, errors.New("stress: target needs Claim, Lock and Unlock")
	}
	if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
		return Result{}, fmt.Errorf("stress: write ratio %v out of [0,1]", cfg.WriteRatio)
	}
	if cfg.Iterations == 0 && cfg.Duration <= 0 {
		return Result{}, errors.New("stress: need iterations or a duration")
	}
	if cfg.Iterations == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var (
		writers, readers atomic.Int64
		writes, reads    atomic.Uint64
		violations       atomic.Uint64
		switches         atomic.Uint64
	)
	// lastNode is only touched by exclusive owners.
	lastNode := -1
	per := make([]uint64, cfg.Workers)
	rw := t.RLock != nil && t.RUnlock != nil

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := range cfg.Workers {
		g.Go(func() error {
			p, err := t.Claim(i)
			if err != nil {
				return fmt.Errorf("stress: worker %d: %w", i, err)
			}
			if t.Release != nil {
				defer t.Release(p)
			}
			node := -1
			if t.Node != nil {
				node = t.Node(p)
			}
			rng := rand.New(rand.NewPCG(uint64(i), uint64(start.UnixNano())))

			for n := 0; cfg.Iterations == 0 || n < cfg.Iterations; n++ {
				if cfg.Iterations == 0 && n&63 == 0 && ctx.Err() != nil {
					break
				}
				if rw && rng.Float64() >= cfg.WriteRatio {
					t.RLock(p)
					readers.Add(1)
					if writers.Load() != 0 {
						violations.Add(1)
					}
					spin(cfg.Hold)
					readers.Add(-1)
					t.RUnlock(p)
					reads.Add(1)
				} else {
					t.Lock(p)
					if writers.Add(1) != 1 || readers.Load() != 0 {
						violations.Add(1)
					}
					if node >= 0 {
						if lastNode >= 0 && lastNode != node {
							switches.Add(1)
						}
						lastNode = node
					}
					spin(cfg.Hold)
					writers.Add(-1)
					t.Unlock(p)
					writes.Add(1)
				}
				per[i]++
			}
			return nil
		})
	}
	err := g.Wait()
	res := Result{
		Writes:       writes.Load(),
		Reads:        reads.Load(),
		Violations:   violations.Load(),
		NodeSwitches: switches.Load(),
		PerWorker:    per,
		Elapsed:      time.Since(start),
	}
	if err != nil {
		return res, err
	}
	if res.Violations != 0 {
		return res, fmt.Errorf("%w: %d times", ErrExclusion, res.Violations)
	}
	return res, nil
}

var sink atomic.Uint64

func spin(n int) {
	var x uint64
	for i := range n {
		x += uint64(i)
	}
	if n > 0 {
		sink.Add(x)
	}
}
