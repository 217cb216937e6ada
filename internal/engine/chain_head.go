package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/recovery"
)

// ChainHeadMonitor is the single source of truth for the latest observed
// block height. It polls through the failover manager under circuit
// breaker protection, so a dead RPC plane degrades to a stale-but-served
// height instead of a hot retry loop.
type ChainHeadMonitor struct {
	rpc      *RPCManager
	breaker  *CircuitBreaker
	clock    Clock
	interval time.Duration

	head      atomic.Uint64
	updatedAt atomic.Int64 // unix nano of last successful poll

	stopCh chan struct{}
}

// NewChainHeadMonitor wires a monitor over the given RPC manager.
func NewChainHeadMonitor(rpc *RPCManager, breakerCfg BreakerConfig, interval time.Duration, opts ...func(*ChainHeadMonitor)) *ChainHeadMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &ChainHeadMonitor{
		rpc:      rpc,
		breaker:  NewCircuitBreaker("chain_head", breakerCfg),
		clock:    SystemClock,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithHeadClock injects a clock (tests).
func WithHeadClock(c Clock) func(*ChainHeadMonitor) {
	return func(m *ChainHeadMonitor) { m.clock = c }
}

// Start launches the polling loop.
func (m *ChainHeadMonitor) Start(ctx context.Context) {
	recovery.WithRecovery(func() {
		ticker := m.clock.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C():
				m.poll(ctx)
			}
		}
	}, "chain_head_monitor")
}

// Stop halts the polling loop.
func (m *ChainHeadMonitor) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *ChainHeadMonitor) poll(ctx context.Context) {
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.rpc.ExecuteWithFallback(ctx, "chain_head_poll", func(ctx context.Context, conn Conn) error {
			height, err := conn.BlockNumber(ctx)
			if err != nil {
				return err
			}
			m.head.Store(height)
			m.updatedAt.Store(m.clock.Now().UnixNano())
			return nil
		})
	})
	if err != nil {
		Logger.Warn("chain_head_poll_failed", "error", err.Error())
	}
}

// Head returns the latest observed block height (0 before the first
// successful poll).
func (m *ChainHeadMonitor) Head() uint64 {
	return m.head.Load()
}

// Staleness returns how long ago the head was last refreshed.
func (m *ChainHeadMonitor) Staleness() time.Duration {
	last := m.updatedAt.Load()
	if last == 0 {
		return 0
	}
	return m.clock.Now().Sub(time.Unix(0, last))
}
