package stress

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mutexTarget(mu *sync.Mutex) Target[int] {
	return Target[int]{
		Claim:  func(i int) (int, error) { return i, nil },
		Lock:   func(int) { mu.Lock() },
		Unlock: func(int) { mu.Unlock() },
		Node:   func(i int) int { return i % 2 },
	}
}

func TestRunIterations(t *testing.T) {
	var mu sync.Mutex
	res, err := Run(context.Background(), Config{Workers: 4, Iterations: 1000, Hold: 10}, mutexTarget(&mu))
	require.NoError(t, err)
	assert.EqualValues(t, 4000, res.Writes)
	assert.Zero(t, res.Reads)
	assert.Zero(t, res.Violations)
	assert.Equal(t, []uint64{1000, 1000, 1000, 1000}, res.PerWorker)
	assert.Less(t, res.NodeSwitches, res.Ops())
	assert.Contains(t, res.String(), "ops=4000")
}

func TestRunDuration(t *testing.T) {
	var mu sync.RWMutex
	target := Target[int]{
		Claim:   func(i int) (int, error) { return i, nil },
		Lock:    func(int) { mu.Lock() },
		Unlock:  func(int) { mu.Unlock() },
		RLock:   func(int) { mu.RLock() },
		RUnlock: func(int) { mu.RUnlock() },
	}
	res, err := Run(context.Background(), Config{Workers: 4, Duration: 20 * time.Millisecond, WriteRatio: 0.2}, target)
	require.NoError(t, err)
	assert.Positive(t, res.Ops())
	assert.Positive(t, res.Reads)
	assert.Positive(t, res.Throughput())
}

func TestRunDetectsBrokenLock(t *testing.T) {
	if runtime.GOMAXPROCS(0) < 2 {
		t.Skip("needs parallel workers")
	}
	target := Target[int]{
		Claim:  func(i int) (int, error) { return i, nil },
		Lock:   func(int) {},
		Unlock: func(int) {},
	}
	_, err := Run(context.Background(), Config{Workers: 8, Iterations: 20000, Hold: 200}, target)
	require.ErrorIs(t, err, ErrExclusion)
}

func TestRunClaimError(t *testing.T) {
	var mu sync.Mutex
	target := mutexTarget(&mu)
	boom := errors.New("no slot")
	target.Claim = func(i int) (int, error) {
		if i == 2 {
			return 0, boom
		}
		return i, nil
	}
	var released sync.Map
	target.Release = func(i int) { released.Store(i, true) }

	_, err := Run(context.Background(), Config{Workers: 3, Iterations: 10}, target)
	require.ErrorIs(t, err, boom)
	_, ok := released.Load(0)
	assert.True(t, ok)
}

func TestRunBadConfig(t *testing.T) {
	var mu sync.Mutex
	ctx := context.Background()
	for _, cfg := range []Config{
		{Workers: 0, Iterations: 1},
		{Workers: 1},
		{Workers: 1, Iterations: 1, WriteRatio: 2},
	} {
		_, err := Run(ctx, cfg, mutexTarget(&mu))
		assert.Error(t, err, "%+v", cfg)
	}
	_, err := Run(ctx, Config{Workers: 1, Iterations: 1}, Target[int]{})
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, Config{Workers: 2, Duration: time.Hour}, mutexTarget(&mu))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Ops(), uint64(2))
}
