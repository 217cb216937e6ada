package engine

import (
	"context"
	"time"
)

// shutdownPollInterval is how often GracefulShutdown re-checks the
// aggregate load while draining.
const shutdownPollInterval = 100 * time.Millisecond

// healthLoop probes every registered worker on a fixed interval and
// marks stragglers unhealthy. A worker whose last report is older than
// twice the interval is considered gone quiet; it stays registered and
// may recover on its next health message.
func (lb *LoadBalancer) healthLoop() {
	ticker := lb.clock.NewTicker(lb.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lb.stopCh:
			return
		case <-ticker.C():
			lb.checkWorkers()
		}
	}
}

// checkWorkers sends a health_check probe to all workers and applies the
// staleness rule.
func (lb *LoadBalancer) checkWorkers() {
	staleAfter := 2 * lb.cfg.HealthCheckInterval
	now := lb.clock.Now()

	lb.mu.Lock()
	type probe struct {
		id string
		ch Channel
	}
	probes := make([]probe, 0, len(lb.workers))
	for _, id := range lb.order {
		w := lb.workers[id]
		if w == nil {
			continue
		}
		if silent := now.Sub(w.lastHealthCheck); silent > staleAfter {
			if w.healthy {
				w.healthy = false
				LogWorkerUnhealthy(id, silent.Seconds())
			}
		}
		probes = append(probes, probe{id: id, ch: w.ch})
	}
	lb.mu.Unlock()

	for _, p := range probes {
		if err := p.ch.Send(Message{Type: MsgHealthCheck}); err != nil {
			Logger.Warn("health_probe_send_failed",
				"worker_id", p.id,
				"error", err.Error(),
			)
		}
	}

	lb.updateHealthyGauge()
	lb.triggerDrain()
}

// aggregateLoad sums in-flight requests across all workers.
func (lb *LoadBalancer) aggregateLoad() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	total := 0
	for _, w := range lb.workers {
		total += w.load
	}
	return total
}

// GracefulShutdown stops admitting work, waits for the aggregate load to
// drain (up to ShutdownMaxWait), then terminates all workers. Queued but
// undispatched requests are abandoned; the caller stopped the world.
func (lb *LoadBalancer) GracefulShutdown(ctx context.Context) error {
	lb.shuttingDown.Store(true)
	Logger.Info("graceful_shutdown_started",
		"aggregate_load", lb.aggregateLoad(),
		"queue_depth", lb.QueueDepth(),
	)

	deadline := lb.clock.Now().Add(lb.cfg.ShutdownMaxWait)
	for lb.aggregateLoad() > 0 && lb.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			Logger.Warn("graceful_shutdown_interrupted", "error", ctx.Err().Error())
			lb.terminateAll()
			return ctx.Err()
		case <-lb.clock.After(shutdownPollInterval):
		}
	}

	remaining := lb.aggregateLoad()
	if remaining > 0 {
		Logger.Warn("graceful_shutdown_forced",
			"remaining_load", remaining,
		)
	} else {
		Logger.Info("graceful_shutdown_drained")
	}

	lb.terminateAll()
	return nil
}

// Stop halts the background loops without the drain dance (tests).
func (lb *LoadBalancer) Stop() {
	lb.stopOnce.Do(func() { close(lb.stopCh) })
}

// terminateAll closes every worker channel and stops the loops.
func (lb *LoadBalancer) terminateAll() {
	lb.Stop()

	lb.mu.Lock()
	workers := make([]*workerState, 0, len(lb.workers))
	for _, w := range lb.workers {
		workers = append(workers, w)
	}
	lb.workers = make(map[string]*workerState)
	lb.order = nil
	lb.mu.Unlock()

	for _, w := range workers {
		_ = w.ch.Close()
	}
	lb.metrics.WorkersRegistered.Set(0)
	lb.metrics.WorkersHealthy.Set(0)
	lb.wg.Wait()
}

// BalancerStats is the aggregate observability snapshot.
type BalancerStats struct {
	Workers        int     `json:"workers"`
	HealthyWorkers int     `json:"healthy_workers"`
	QueueDepth     int     `json:"queue_depth"`
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	AverageLoad    float64 `json:"average_load"`
	DispatchTPS    float64 `json:"dispatch_tps"`
}

// Stats returns aggregate counts; read-only, no side effects.
func (lb *LoadBalancer) Stats() BalancerStats {
	lb.mu.Lock()
	workers := len(lb.workers)
	healthy := 0
	totalLoad := 0
	for _, w := range lb.workers {
		if w.healthy {
			healthy++
		}
		totalLoad += w.load
	}
	lb.mu.Unlock()

	avg := 0.0
	if workers > 0 {
		avg = float64(totalLoad) / float64(workers)
	}
	return BalancerStats{
		Workers:        workers,
		HealthyWorkers: healthy,
		QueueDepth:     lb.QueueDepth(),
		TotalRequests:  lb.totalRequests.Load(),
		TotalErrors:    lb.totalErrors.Load(),
		AverageLoad:    avg,
		DispatchTPS:    lb.tps.Rate(),
	}
}
