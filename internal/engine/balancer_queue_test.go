package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRequestFullRejection(t *testing.T) {
	lb := newTestBalancer(func(cfg *BalancerConfig) {
		cfg.MaxQueueSize = 3
	})
	defer lb.Stop()

	for i := 0; i < 3; i++ {
		id, err := lb.QueueRequest([]byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	require.Equal(t, 3, lb.QueueDepth())

	_, err := lb.QueueRequest([]byte(`{"n":3}`))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 3, lb.QueueDepth(), "rejected enqueue must not mutate the queue")
}

func TestQueueDrainsWhenWorkerArrives(t *testing.T) {
	lb := newTestBalancer(nil)
	lb.Start()
	defer lb.Stop()

	// no worker yet: requests pile up
	for i := 0; i < 5; i++ {
		_, err := lb.QueueRequest([]byte(`{}`))
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, lb.QueueDepth(), "backlog holds while no worker is registered")

	end, workerEnd := NewPipe()
	echoWorker(workerEnd, 0)
	require.NoError(t, lb.RegisterWorker("a", end))

	require.Eventually(t, func() bool {
		return lb.QueueDepth() == 0
	}, 2*time.Second, 10*time.Millisecond, "registration must trigger a drain")

	require.Eventually(t, func() bool {
		lb.mu.Lock()
		defer lb.mu.Unlock()
		return lb.workers["a"].requestCount == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueRequeuesAtFrontOnFailedDispatch(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	// a registered worker whose channel is already closed: selection
	// succeeds, the send fails
	end, workerEnd := NewPipe()
	lb.mu.Lock()
	lb.workers["dead"] = &workerState{
		id:              "dead",
		ch:              end,
		healthy:         true,
		lastHealthCheck: lb.clock.Now(),
	}
	lb.order = append(lb.order, "dead")
	lb.mu.Unlock()
	_ = workerEnd.Close()

	first, err := lb.QueueRequest([]byte(`{"seq":1}`))
	require.NoError(t, err)
	_, err = lb.QueueRequest([]byte(`{"seq":2}`))
	require.NoError(t, err)

	lb.drainQueue()

	assert.Equal(t, 2, lb.QueueDepth())
	lb.queueMu.Lock()
	head := lb.queue[0].id
	lb.queueMu.Unlock()
	assert.Equal(t, first, head, "failed dispatch goes back to the FRONT")

	lb.mu.Lock()
	load := lb.workers["dead"].load
	lb.mu.Unlock()
	assert.Equal(t, 0, load, "failed send rolls the load increment back")
}

func TestQueueDropsExpiredRequest(t *testing.T) {
	lb := newTestBalancer(func(cfg *BalancerConfig) {
		cfg.MaxRequeueAge = 5 * time.Minute
	})
	defer lb.Stop()

	end, workerEnd := NewPipe()
	lb.mu.Lock()
	lb.workers["dead"] = &workerState{
		id:              "dead",
		ch:              end,
		healthy:         true,
		lastHealthCheck: lb.clock.Now(),
	}
	lb.order = append(lb.order, "dead")
	lb.mu.Unlock()
	_ = workerEnd.Close()

	_, err := lb.QueueRequest([]byte(`{}`))
	require.NoError(t, err)

	// age the queued item past the requeue cutoff
	lb.queueMu.Lock()
	lb.queue[0].enqueuedAt = lb.clock.Now().Add(-6 * time.Minute)
	lb.queueMu.Unlock()

	lb.drainQueue()
	assert.Equal(t, 0, lb.QueueDepth(), "expired request is dropped, not requeued")
}

func TestQueueRejectedDuringShutdown(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	lb.shuttingDown.Store(true)
	_, err := lb.QueueRequest([]byte(`{}`))
	require.ErrorIs(t, err, ErrShuttingDown)
}
