package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/monitor"
	"github.com/aurisvision/monad-trading-bot-sub005/internal/recovery"

	"github.com/google/uuid"
)

// Strategy selects which worker receives the next request.
type Strategy string

const (
	// StrategyRoundRobin cycles a monotonic counter over the healthy
	// subset at selection time; membership changes just change the
	// modulus, there is no fixed ring.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastConnections picks the minimal-load worker, first
	// encountered (registration order) on ties.
	StrategyLeastConnections Strategy = "least_connections"
	// StrategyLeastResponseTime is an alias of least-connections: load is
	// the proxy metric; true latency tracking is a possible extension.
	StrategyLeastResponseTime Strategy = "least_response_time"
)

// BalancerConfig holds the load-balancer tunables.
type BalancerConfig struct {
	HealthCheckInterval time.Duration // default 30s
	DispatchTimeout     time.Duration // default 30s
	MaxQueueSize        int           // default 1000
	MaxRequeueAge       time.Duration // default 5m
	ShutdownMaxWait     time.Duration // default 30s
}

func (c *BalancerConfig) applyDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MaxRequeueAge <= 0 {
		c.MaxRequeueAge = 5 * time.Minute
	}
	if c.ShutdownMaxWait <= 0 {
		c.ShutdownMaxWait = 30 * time.Second
	}
}

// LoadBalancer owns the worker registry and the bounded request backlog.
// Each structure has exactly one guarding mutex and is only ever exposed
// through snapshots, no live references escape.
type LoadBalancer struct {
	cfg     BalancerConfig
	clock   Clock
	metrics *Metrics
	tps     *monitor.DispatchRateMonitor

	// registry: workers + registration order + round-robin counter
	mu        sync.Mutex
	workers   map[string]*workerState
	order     []string
	rrCounter uint64

	// backlog
	queueMu sync.Mutex
	queue   []*queuedRequest

	// in-flight dispatches awaiting a correlated completion
	pendingMu sync.Mutex
	pending   map[string]chan Message

	totalRequests atomic.Int64
	totalErrors   atomic.Int64

	shuttingDown atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}
	drainSignal  chan struct{}
	wg           sync.WaitGroup
}

// BalancerOption configures a LoadBalancer.
type BalancerOption func(*LoadBalancer)

// WithBalancerClock injects a clock (tests).
func WithBalancerClock(c Clock) BalancerOption {
	return func(lb *LoadBalancer) { lb.clock = c }
}

// NewLoadBalancer creates a balancer with an empty registry.
func NewLoadBalancer(cfg BalancerConfig, opts ...BalancerOption) *LoadBalancer {
	cfg.applyDefaults()
	lb := &LoadBalancer{
		cfg:         cfg,
		clock:       SystemClock,
		metrics:     GetMetrics(),
		tps:         monitor.NewDispatchRateMonitor(),
		workers:     make(map[string]*workerState),
		pending:     make(map[string]chan Message),
		stopCh:      make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb
}

// Start launches the health-probe and queue-drain loops. They run until
// Stop or GracefulShutdown.
func (lb *LoadBalancer) Start() {
	lb.wg.Add(2)
	recovery.WithRecovery(func() {
		defer lb.wg.Done()
		lb.healthLoop()
	}, "balancer_health_loop")
	recovery.WithRecovery(func() {
		defer lb.wg.Done()
		lb.drainLoop()
	}, "balancer_drain_loop")
}

// RegisterWorker adds a worker in healthy state with zero load and starts
// consuming its channel. Channel closure is treated as a worker exit and
// unregisters it automatically.
func (lb *LoadBalancer) RegisterWorker(id string, ch Channel) error {
	if lb.shuttingDown.Load() {
		return ErrShuttingDown
	}

	lb.mu.Lock()
	if _, exists := lb.workers[id]; exists {
		lb.mu.Unlock()
		return fmt.Errorf("worker %s already registered", id)
	}
	lb.workers[id] = &workerState{
		id:              id,
		ch:              ch,
		healthy:         true,
		lastHealthCheck: lb.clock.Now(),
	}
	lb.order = append(lb.order, id)
	total := len(lb.workers)
	lb.mu.Unlock()

	lb.metrics.WorkersRegistered.Set(float64(total))
	lb.updateHealthyGauge()
	LogWorkerRegistered(id, total)

	lb.wg.Add(1)
	recovery.WithRecovery(func() {
		defer lb.wg.Done()
		lb.consumeWorker(id, ch)
	}, "worker_reader_"+id)

	lb.triggerDrain()
	return nil
}

// UnregisterWorker removes a worker from the registry. Called explicitly
// or automatically when the worker's channel closes.
func (lb *LoadBalancer) UnregisterWorker(id string) {
	lb.mu.Lock()
	w, ok := lb.workers[id]
	if !ok {
		lb.mu.Unlock()
		return
	}
	delete(lb.workers, id)
	for i, oid := range lb.order {
		if oid == id {
			lb.order = append(lb.order[:i], lb.order[i+1:]...)
			break
		}
	}
	total := len(lb.workers)
	lb.mu.Unlock()

	_ = w.ch.Close()
	lb.metrics.WorkersRegistered.Set(float64(total))
	lb.updateHealthyGauge()
	LogWorkerUnregistered(id, "unregistered")
}

// consumeWorker pumps one worker's inbound messages into the handler.
// Recv closing means the worker process is gone.
func (lb *LoadBalancer) consumeWorker(id string, ch Channel) {
	for msg := range ch.Recv() {
		lb.handleWorkerMessage(id, msg)
	}
	lb.mu.Lock()
	_, stillRegistered := lb.workers[id]
	lb.mu.Unlock()
	if stillRegistered {
		LogWorkerUnregistered(id, "channel_closed")
		lb.UnregisterWorker(id)
	}
}

// handleWorkerMessage applies one worker→dispatcher message. This is the
// only code path that mutates worker health/load from the outside.
func (lb *LoadBalancer) handleWorkerMessage(id string, msg Message) {
	switch msg.Type {
	case MsgHealth:
		lb.mu.Lock()
		if w, ok := lb.workers[id]; ok {
			wasHealthy := w.healthy
			w.healthy = msg.Healthy
			w.load = msg.Load
			w.lastHealthCheck = lb.clock.Now()
			if msg.Healthy && !wasHealthy {
				LogWorkerRecovered(id)
			}
		}
		lb.mu.Unlock()
		lb.updateHealthyGauge()
		if msg.Healthy {
			lb.triggerDrain()
		}

	case MsgRequestComplete:
		lb.mu.Lock()
		if w, ok := lb.workers[id]; ok {
			if w.load > 0 {
				w.load--
			}
			w.requestCount++
		}
		lb.mu.Unlock()
		lb.totalRequests.Add(1)
		lb.metrics.RequestsCompleted.Inc()
		lb.tps.Record(1)
		lb.deliverPending(msg)
		lb.triggerDrain()

	case MsgError:
		lb.mu.Lock()
		if w, ok := lb.workers[id]; ok {
			// error only bumps the counter; load is reconciled by the
			// worker's own health reports
			w.errorCount++
		}
		lb.mu.Unlock()
		lb.totalErrors.Add(1)
		lb.metrics.RequestsFailed.Inc()
		Logger.Warn("worker_reported_error",
			"worker_id", id,
			"request_id", msg.RequestID,
			"error", msg.Error,
		)
		if msg.RequestID != "" {
			lb.deliverPending(msg)
		}
	}
}

// SelectWorker returns the id of one healthy worker, or
// ErrNoHealthyWorkers when the healthy subset is empty.
func (lb *LoadBalancer) SelectWorker(strategy Strategy) (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, err := lb.selectLocked(strategy)
	if err != nil {
		return "", err
	}
	return w.id, nil
}

// selectLocked implements the selection strategies. Caller holds lb.mu.
func (lb *LoadBalancer) selectLocked(strategy Strategy) (*workerState, error) {
	healthy := make([]*workerState, 0, len(lb.order))
	for _, id := range lb.order {
		if w := lb.workers[id]; w != nil && w.healthy {
			healthy = append(healthy, w)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthyWorkers
	}

	switch strategy {
	case StrategyRoundRobin:
		idx := lb.rrCounter % uint64(len(healthy))
		lb.rrCounter++
		return healthy[idx], nil
	case StrategyLeastConnections, StrategyLeastResponseTime:
		fallthrough
	default:
		best := healthy[0]
		for _, w := range healthy[1:] {
			if w.load < best.load {
				best = w
			}
		}
		return best, nil
	}
}

// newRequestID derives a unique id from the current time plus a random
// fragment; the timestamp keeps ids sortable in logs.
func (lb *LoadBalancer) newRequestID() string {
	return fmt.Sprintf("%d-%s", lb.clock.Now().UnixMilli(), uuid.NewString()[:8])
}

func (lb *LoadBalancer) updateHealthyGauge() {
	lb.mu.Lock()
	healthy := 0
	for _, w := range lb.workers {
		if w.healthy {
			healthy++
		}
	}
	lb.mu.Unlock()
	lb.metrics.WorkersHealthy.Set(float64(healthy))
}

// triggerDrain nudges the drain loop; coalesces when one is pending.
func (lb *LoadBalancer) triggerDrain() {
	select {
	case lb.drainSignal <- struct{}{}:
	default:
	}
}
