package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulShutdownWaitsForInFlight(t *testing.T) {
	lb := newTestBalancer(nil)

	aEnd, aWorker := NewPipe()
	bEnd, bWorker := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", aEnd))
	require.NoError(t, lb.RegisterWorker("b", bEnd))
	echoWorker(aWorker, 250*time.Millisecond)
	echoWorker(bWorker, 250*time.Millisecond)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- lb.DistributeRequest(context.Background(), []byte(`{}`))
		}()
	}
	// let both dispatches land before we pull the plug
	require.Eventually(t, func() bool {
		return lb.aggregateLoad() == 2
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, lb.GracefulShutdown(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond,
		"shutdown must actually wait for the workers to finish")
	assert.Less(t, elapsed, lb.cfg.ShutdownMaxWait,
		"drained shutdown must not run to the deadline")
	assert.Equal(t, 0, lb.aggregateLoad())

	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}

	err := lb.DistributeRequest(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestGracefulShutdownForcesAfterMaxWait(t *testing.T) {
	lb := newTestBalancer(func(cfg *BalancerConfig) {
		cfg.ShutdownMaxWait = 200 * time.Millisecond
	})

	end, _ := NewPipe() // worker never completes anything
	require.NoError(t, lb.RegisterWorker("a", end))

	lb.mu.Lock()
	lb.workers["a"].load = 1
	lb.mu.Unlock()

	start := time.Now()
	require.NoError(t, lb.GracefulShutdown(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)

	lb.mu.Lock()
	remaining := len(lb.workers)
	lb.mu.Unlock()
	assert.Equal(t, 0, remaining, "forced shutdown still terminates all workers")
}

func TestGracefulShutdownContextCancel(t *testing.T) {
	lb := newTestBalancer(nil)

	end, _ := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", end))
	lb.mu.Lock()
	lb.workers["a"].load = 1
	lb.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := lb.GracefulShutdown(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
