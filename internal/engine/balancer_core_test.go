package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBalancer(mutate func(*BalancerConfig)) *LoadBalancer {
	cfg := BalancerConfig{
		HealthCheckInterval: 50 * time.Millisecond,
		DispatchTimeout:     time.Second,
		MaxQueueSize:        1000,
		MaxRequeueAge:       5 * time.Minute,
		ShutdownMaxWait:     2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewLoadBalancer(cfg)
}

// echoWorker drains one pipe end like a well-behaved worker process:
// health probes get an immediate healthy report and requests complete
// after workDelay.
func echoWorker(end *Pipe, workDelay time.Duration) {
	go func() {
		load := 0
		for msg := range end.Recv() {
			switch msg.Type {
			case MsgHealthCheck:
				_ = end.Send(Message{Type: MsgHealth, Healthy: true, Load: load})
			case MsgRequest:
				go func(reqID string) {
					if workDelay > 0 {
						time.Sleep(workDelay)
					}
					_ = end.Send(Message{Type: MsgRequestComplete, RequestID: reqID})
				}(msg.RequestID)
			}
		}
	}()
}

func TestRegisterUnregisterWorker(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	a, aw := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", a))
	assert.Error(t, lb.RegisterWorker("a", a), "duplicate id must be rejected")

	id, err := lb.SelectWorker(StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	lb.UnregisterWorker("a")
	_, err = lb.SelectWorker(StrategyRoundRobin)
	require.ErrorIs(t, err, ErrNoHealthyWorkers)
	_ = aw.Close()
}

func TestChannelCloseUnregistersWorker(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	a, aw := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", a))
	require.NoError(t, aw.Close())

	require.Eventually(t, func() bool {
		_, err := lb.SelectWorker(StrategyRoundRobin)
		return err != nil
	}, time.Second, 5*time.Millisecond, "worker exit must unregister it")
}

func TestRoundRobinSelectsEachExactlyOnce(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	for _, id := range []string{"a", "b", "c"} {
		end, _ := NewPipe()
		require.NoError(t, lb.RegisterWorker(id, end))
	}

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		id, err := lb.SelectWorker(StrategyRoundRobin)
		require.NoError(t, err)
		seen[id]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
}

func TestLeastConnectionsPicksMinimalLoad(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	for _, id := range []string{"a", "b", "c"} {
		end, _ := NewPipe()
		require.NoError(t, lb.RegisterWorker(id, end))
	}
	lb.mu.Lock()
	lb.workers["a"].load = 3
	lb.workers["b"].load = 1
	lb.workers["c"].load = 2
	lb.mu.Unlock()

	id, err := lb.SelectWorker(StrategyLeastConnections)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	// ties resolve to the first in registration order
	lb.mu.Lock()
	lb.workers["a"].load = 1
	lb.mu.Unlock()
	id, err = lb.SelectWorker(StrategyLeastConnections)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	// least-response-time is an alias
	id, err = lb.SelectWorker(StrategyLeastResponseTime)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestUnhealthyWorkersNotSelectable(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	for _, id := range []string{"a", "b"} {
		end, _ := NewPipe()
		require.NoError(t, lb.RegisterWorker(id, end))
	}
	lb.mu.Lock()
	lb.workers["a"].healthy = false
	lb.mu.Unlock()

	for i := 0; i < 5; i++ {
		id, err := lb.SelectWorker(StrategyRoundRobin)
		require.NoError(t, err)
		assert.Equal(t, "b", id)
	}
}

func TestStaleWorkerMarkedUnhealthy(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	aEnd, _ := NewPipe()
	bEnd, bWorker := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", aEnd))
	require.NoError(t, lb.RegisterWorker("b", bEnd))
	echoWorker(bWorker, 0)

	// a went silent longer than 2× the probe interval
	lb.mu.Lock()
	lb.workers["a"].lastHealthCheck = lb.clock.Now().Add(-3 * lb.cfg.HealthCheckInterval)
	lb.mu.Unlock()

	lb.checkWorkers()

	for i := 0; i < 5; i++ {
		id, err := lb.SelectWorker(StrategyRoundRobin)
		require.NoError(t, err)
		assert.Equal(t, "b", id, "silent worker must never be selected")
	}

	// a is still registered and recovers on its next health report
	lb.handleWorkerMessage("a", Message{Type: MsgHealth, Healthy: true, Load: 0})
	lb.mu.Lock()
	healthy := lb.workers["a"].healthy
	lb.mu.Unlock()
	assert.True(t, healthy)
}

func TestHealthProbeSentOnTick(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	aEnd, aWorker := NewPipe()
	require.NoError(t, lb.RegisterWorker("a", aEnd))

	lb.checkWorkers()

	select {
	case msg := <-aWorker.Recv():
		assert.Equal(t, MsgHealthCheck, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a health_check probe")
	}
}

func TestStatsSnapshot(t *testing.T) {
	lb := newTestBalancer(nil)
	defer lb.Stop()

	for _, id := range []string{"a", "b"} {
		end, _ := NewPipe()
		require.NoError(t, lb.RegisterWorker(id, end))
	}
	lb.mu.Lock()
	lb.workers["a"].load = 2
	lb.workers["b"].healthy = false
	lb.mu.Unlock()

	stats := lb.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 1, stats.HealthyWorkers)
	assert.Equal(t, 0, stats.QueueDepth)
	assert.InDelta(t, 1.0, stats.AverageLoad, 0.001)
}
