package limiter

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// 🛡️ 工业级硬编码保护
const (
	// MaxSafetyRPS is the absolute per-endpoint ceiling. Commercial RPC
	// plans bill per call; a misconfigured environment must not be able
	// to burn the daily quota in minutes.
	MaxSafetyRPS     = 50
	DefaultRPS       = 20
	DefaultBurstSize = 5
)

// RateLimiter 速率限制器，带有安全上限审计
type RateLimiter struct {
	limiter *rate.Limiter
	maxRPS  int // configured RPS, for monitoring
}

// NewRateLimiter creates a limiter for one endpoint. Values above the
// hardcoded safety ceiling are forced down and logged.
func NewRateLimiter(envRPS int) *RateLimiter {
	rps := DefaultRPS

	switch {
	case envRPS > MaxSafetyRPS:
		slog.Warn("⚠️  Unsafe RPS config detected, forcing safe threshold",
			"requested_rps", envRPS,
			"forced_rps", MaxSafetyRPS,
			"reason", "commercial_quota_protection")
		rps = MaxSafetyRPS
	case envRPS > 0:
		rps = envRPS
	default:
		slog.Info("✅ Rate limiter using default value",
			"rps", rps,
			"mode", "default")
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), DefaultBurstSize),
		maxRPS:  rps,
	}
}

// Wait 阻塞直到获取令牌（或上下文取消）
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed right now without waiting.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// MaxRPS 返回当前配置的最大 RPS（用于监控）
func (rl *RateLimiter) MaxRPS() int {
	return rl.maxRPS
}

// SetBurst overrides the burst size.
func (rl *RateLimiter) SetBurst(burst int) {
	if burst > 0 {
		rl.limiter.SetBurst(burst)
	}
}
