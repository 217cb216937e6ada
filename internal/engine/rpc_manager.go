package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/limiter"
	"github.com/aurisvision/monad-trading-bot-sub005/internal/monitor"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Conn is the minimal connection surface the failover layer needs.
// *ethclient.Client satisfies it directly; tests substitute mocks.
type Conn interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// Dialer opens a connection to one endpoint.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// EthDialer is the production dialer over go-ethereum.
func EthDialer(ctx context.Context, rawURL string) (Conn, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// Operation is a caller-supplied RPC action run against a live connection.
type Operation func(ctx context.Context, conn Conn) error

// RPCManagerConfig holds the failover tunables.
type RPCManagerConfig struct {
	Endpoints           []string      // ordered, at least one
	MaxRetries          int           // total attempts, default 3
	RetryDelay          time.Duration // linear backoff base, default 1s
	RateLimitCooldown   time.Duration // default 60s
	RateLimitRetryDelay time.Duration // fixed delay after a 429 switch, default 500ms
	ProbeTimeout        time.Duration // identity-probe timeout, default 10s
	EndpointRPS         int           // per-endpoint rate limit
}

func (c *RPCManagerConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
	if c.RateLimitRetryDelay <= 0 {
		c.RateLimitRetryDelay = 500 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
}

// RPCManager owns a prioritized list of interchangeable endpoints and a
// single rotating pointer over them. It dials, probes, classifies
// failures and fails over; rate-limited endpoints go into a fixed
// cooldown and re-enable themselves when it elapses.
type RPCManager struct {
	cfg   RPCManagerConfig
	dial  Dialer
	clock Clock

	// mu guards the endpoint records and the rotating pointer; they are
	// never handed out, only snapshotted.
	mu        sync.Mutex
	endpoints []*endpointStatus
	current   int

	limiters map[string]*limiter.RateLimiter
	quota    *monitor.QuotaMonitor
	metrics  *Metrics
}

// RPCManagerOption configures an RPCManager.
type RPCManagerOption func(*RPCManager)

// WithDialer injects a dialer (tests).
func WithDialer(d Dialer) RPCManagerOption {
	return func(m *RPCManager) { m.dial = d }
}

// WithRPCClock injects a clock (tests).
func WithRPCClock(c Clock) RPCManagerOption {
	return func(m *RPCManager) { m.clock = c }
}

// WithQuotaMonitor wires the daily call-budget monitor.
func WithQuotaMonitor(q *monitor.QuotaMonitor) RPCManagerOption {
	return func(m *RPCManager) { m.quota = q }
}

// NewRPCManager creates a manager over the configured endpoint list.
func NewRPCManager(cfg RPCManagerConfig, opts ...RPCManagerOption) (*RPCManager, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}
	cfg.applyDefaults()

	m := &RPCManager{
		cfg:      cfg,
		dial:     EthDialer,
		clock:    SystemClock,
		limiters: make(map[string]*limiter.RateLimiter, len(cfg.Endpoints)),
		metrics:  GetMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, u := range cfg.Endpoints {
		m.endpoints = append(m.endpoints, &endpointStatus{
			url:     u,
			healthy: true, // optimistic until the first probe says otherwise
		})
		m.limiters[u] = limiter.NewRateLimiter(cfg.EndpointRPS)
	}
	m.metrics.RPCHealthyEndpoints.Set(float64(len(m.endpoints)))

	Logger.Info("rpc_manager_initialized",
		"endpoints", len(m.endpoints),
		"max_retries", cfg.MaxRetries,
		"rate_limit_cooldown", cfg.RateLimitCooldown.String(),
	)
	return m, nil
}

// GetProvider dials and probes endpoints until one answers, up to
// MaxRetries total attempts. The caller owns the returned connection and
// must Close it.
func (m *RPCManager) GetProvider(ctx context.Context) (Conn, error) {
	conn, _, err := m.getProvider(ctx)
	return conn, err
}

func (m *RPCManager) getProvider(ctx context.Context) (Conn, *endpointStatus, error) {
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		ep := m.selectEndpoint()
		if ep == nil {
			// every endpoint is in a rate-limit cooldown; backing off is
			// all we can do until one re-enables itself
			if err := m.sleep(ctx, m.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, nil, err
			}
			continue
		}

		LogRPCConnectAttempt(redactEndpoint(ep.url), attempt)
		if err := m.limiters[ep.url].Wait(ctx); err != nil {
			return nil, nil, err
		}
		if m.quota != nil {
			m.quota.Inc()
		}
		m.metrics.RPCRequestsTotal.WithLabelValues(redactEndpoint(ep.url), "probe").Inc()

		conn, err := m.dial(ctx, ep.url)
		if err == nil {
			// Cheap identity probe, latency measured.
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			start := m.clock.Now()
			_, perr := conn.ChainID(probeCtx)
			latency := m.clock.Now().Sub(start)
			cancel()

			if perr == nil {
				m.markHealthy(ep, latency)
				LogRPCConnected(redactEndpoint(ep.url), latency.Seconds())
				return conn, ep, nil
			}
			conn.Close()
			err = perr
		}

		LogRPCConnectFailed(redactEndpoint(ep.url), attempt, err)
		m.markUnhealthy(ep, err)
		m.advance("connect_failed")

		if attempt < m.cfg.MaxRetries {
			if serr := m.sleep(ctx, m.cfg.RetryDelay*time.Duration(attempt)); serr != nil {
				return nil, nil, serr
			}
		}
	}
	return nil, nil, ErrAllEndpointsExhausted
}

// ExecuteWithFallback runs op with endpoint failover. Rate-limit failures
// put the endpoint into cooldown and retry quickly on the next one;
// network failures retry with linear backoff; anything else is a business
// error and propagates unchanged.
func (m *RPCManager) ExecuteWithFallback(ctx context.Context, label string, op Operation) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		conn, ep, err := m.getProvider(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}

		err = op(ctx, conn)
		conn.Close()
		if err == nil {
			return nil
		}
		m.metrics.RPCRequestsFailed.WithLabelValues(redactEndpoint(ep.url), ClassifyRPCError(err).String()).Inc()

		switch ClassifyRPCError(err) {
		case ClassRateLimited:
			m.markRateLimited(ep)
			m.advance("rate_limited")
			lastErr = err
			// bypass linear backoff: short fixed delay, then next endpoint
			if serr := m.sleep(ctx, m.cfg.RateLimitRetryDelay); serr != nil {
				return serr
			}
		case ClassNetwork:
			m.markUnhealthy(ep, err)
			m.advance("network_error")
			lastErr = err
			if attempt < m.cfg.MaxRetries {
				if serr := m.sleep(ctx, m.cfg.RetryDelay*time.Duration(attempt)); serr != nil {
					return serr
				}
			}
		default:
			// business error: never masked, never retried on another endpoint
			return err
		}
	}
	return fmt.Errorf("%s: %w (last: %v)", label, ErrAllEndpointsExhausted, lastErr)
}

// selectEndpoint returns the endpoint under the rotating pointer,
// skipping those still inside a rate-limit cooldown. Expired cooldowns
// are re-enabled here, so the automatic re-enable needs no explicit reset.
// Returns nil when every endpoint is cooling.
func (m *RPCManager) selectEndpoint() *endpointStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := len(m.endpoints)
	for i := 0; i < n; i++ {
		ep := m.endpoints[(m.current+i)%n]
		if ep.cooling {
			if now.Before(ep.retryAfter) {
				continue
			}
			ep.cooling = false
			ep.healthy = true
			LogCooldownEnd(redactEndpoint(ep.url))
			m.updateHealthyGaugeLocked()
		}
		m.current = (m.current + i) % n
		return ep
	}
	return nil
}

// advance moves the rotating pointer to the next endpoint (wrapping).
func (m *RPCManager) advance(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.endpoints)
	from := m.endpoints[m.current]
	m.current = (m.current + 1) % n
	to := m.endpoints[m.current]

	m.metrics.RPCEndpointSwitches.Inc()
	LogEndpointSwitch(redactEndpoint(from.url), redactEndpoint(to.url), reason)
}

func (m *RPCManager) markHealthy(ep *endpointStatus, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep.healthy = true
	ep.lastError = ""
	ep.lastChecked = m.clock.Now()
	ep.responseTime = latency
	m.metrics.RPCProbeLatency.WithLabelValues(redactEndpoint(ep.url)).Observe(latency.Seconds())
	m.updateHealthyGaugeLocked()
}

func (m *RPCManager) markUnhealthy(ep *endpointStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep.healthy = false
	ep.lastError = err.Error()
	ep.errorCount++
	ep.lastChecked = m.clock.Now()
	m.updateHealthyGaugeLocked()
}

// markRateLimited puts the endpoint into a fixed cooldown. It re-enables
// automatically once retryAfter passes, regardless of other activity.
func (m *RPCManager) markRateLimited(ep *endpointStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep.healthy = false
	ep.cooling = true
	ep.lastError = ErrRateLimited.Error()
	ep.errorCount++
	ep.lastChecked = m.clock.Now()
	ep.retryAfter = m.clock.Now().Add(m.cfg.RateLimitCooldown)

	m.metrics.RPCCooldownsStarted.Inc()
	LogCooldownStart(redactEndpoint(ep.url), m.cfg.RateLimitCooldown.Seconds())
	m.updateHealthyGaugeLocked()
}

func (m *RPCManager) updateHealthyGaugeLocked() {
	healthy := 0
	for _, ep := range m.endpoints {
		if ep.healthy {
			healthy++
		}
	}
	m.metrics.RPCHealthyEndpoints.Set(float64(healthy))
}

// Stats returns a redacted snapshot of every endpoint record.
func (m *RPCManager) Stats() []EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EndpointStats, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, ep.snapshot())
	}
	return out
}

// HealthyEndpointCount returns how many endpoints are currently healthy.
func (m *RPCManager) HealthyEndpointCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, ep := range m.endpoints {
		if ep.healthy {
			count++
		}
	}
	return count
}

// sleep waits for d or until ctx is done.
func (m *RPCManager) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(d):
		return nil
	}
}
