package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
	"github.com/JakeFAU/git-clone-worker/internal/queue/memory"
)

// gatedExecutor blocks each Execute until release receives a value.
type gatedExecutor struct {
	started  chan string
	release  chan struct{}
	inflight atomic.Int32
	maxSeen  atomic.Int32
	outcome  clone.Outcome
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{
		started: make(chan string, 16),
		release: make(chan struct{}),
		outcome: clone.Completed(1),
	}
}

func (g *gatedExecutor) Execute(ctx context.Context, job clone.Job) clone.Outcome {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		prev := g.maxSeen.Load()
		if n <= prev || g.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	g.started <- job.ID
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.outcome
}

type instantExecutor struct{}

func (instantExecutor) Execute(context.Context, clone.Job) clone.Outcome { return clone.Completed(1) }

// countingCoordinator wraps the memory coordinator and counts claims.
type countingCoordinator struct {
	*memory.Coordinator
	claims   atomic.Int32
	claimErr error
}

func (c *countingCoordinator) Claim(ctx context.Context) (*clone.Job, error) {
	c.claims.Add(1)
	if c.claimErr != nil {
		return nil, c.claimErr
	}
	return c.Coordinator.Claim(ctx)
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return cancel, &wg
}

func TestRunnerDrainsBacklogWithoutTriggers(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 64)}
	for range 3 {
		coord.Add("octo/repo")
	}
	r := New(coord, instantExecutor{}, Config{PollInterval: time.Hour}, nil)
	startRunner(t, r)

	require.Eventually(t, func() bool {
		return len(coord.Reports()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerTriggerDuringJobCoalesces(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 64)}
	exec := newGatedExecutor()
	r := New(coord, exec, Config{PollInterval: time.Hour}, nil)
	coord.Add("octo/a")
	startRunner(t, r)

	<-exec.started
	coord.Add("octo/b")
	for range 5 {
		r.Trigger()
	}
	// No claim while the slot is busy.
	require.Never(t, func() bool {
		return coord.claims.Load() > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	require.EqualValues(t, 1, coord.claims.Load())
	exec.release <- struct{}{}

	<-exec.started
	exec.release <- struct{}{}

	require.Eventually(t, func() bool {
		return len(coord.Reports()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), exec.maxSeen.Load())

	// Pending trigger from the burst causes at most one extra empty claim.
	require.Never(t, func() bool {
		return coord.claims.Load() > 4
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRunnerEmptyClaimIsNoop(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 8)}
	r := New(coord, instantExecutor{}, Config{PollInterval: time.Hour}, nil)
	startRunner(t, r)

	require.Eventually(t, func() bool { return coord.claims.Load() == 1 }, time.Second, 5*time.Millisecond)
	r.Trigger()
	require.Eventually(t, func() bool { return coord.claims.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Empty(t, coord.Reports())
}

func TestRunnerPollsWithoutTrigger(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 8)}
	r := New(coord, instantExecutor{}, Config{PollInterval: 10 * time.Millisecond}, nil)
	startRunner(t, r)

	require.Eventually(t, func() bool { return coord.claims.Load() >= 1 }, time.Second, 5*time.Millisecond)
	coord.Add("octo/late")
	require.Eventually(t, func() bool { return len(coord.Reports()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunnerClaimErrorKeepsRunning(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{
		Coordinator: memory.NewCoordinator(0, 8),
		claimErr:    errors.New("method timeout"),
	}
	r := New(coord, instantExecutor{}, Config{PollInterval: 5 * time.Millisecond}, nil)
	startRunner(t, r)

	require.Eventually(t, func() bool { return coord.claims.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRunnerDrainFinishesInFlightJob(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 64)}
	exec := newGatedExecutor()
	r := New(coord, exec, Config{PollInterval: time.Hour}, nil)
	coord.Add("octo/a")
	coord.Add("octo/b")
	startRunner(t, r)

	<-exec.started
	r.Drain()
	r.Drain()
	select {
	case <-r.Done():
		t.Fatal("runner stopped before in-flight job finished")
	case <-time.After(20 * time.Millisecond):
	}
	exec.release <- struct{}{}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after drain")
	}
	require.Len(t, coord.Reports(), 1)
	require.Equal(t, int32(1), coord.claims.Load())
}

func TestRunnerHardStopSkipsReport(t *testing.T) {
	t.Parallel()

	coord := &countingCoordinator{Coordinator: memory.NewCoordinator(0, 64)}
	exec := newGatedExecutor()
	r := New(coord, exec, Config{PollInterval: time.Hour}, nil)
	coord.Add("octo/a")
	cancel, wg := startRunner(t, r)

	<-exec.started
	cancel()
	wg.Wait()

	require.Empty(t, coord.Reports())
}

func TestRunnerRunTwice(t *testing.T) {
	t.Parallel()

	r := New(&countingCoordinator{Coordinator: memory.NewCoordinator(0, 8)}, instantExecutor{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	require.Error(t, r.Run(ctx))
	require.Equal(t, DefaultPollInterval, r.cfg.PollInterval)
}
