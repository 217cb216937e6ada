package monitor

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MaxDailyQuota     = 300000 // 商业节点每日免费额度上限（CU）
	AlertThreshold    = 0.80   // 80% 预警阈值
	CriticalThreshold = 0.90   // 90% 临界阈值
)

// QuotaMonitor RPC 额度监控器: tracks how much of the metered daily
// call budget the failover layer has consumed.
type QuotaMonitor struct {
	dailyCalls  uint64    // 当天 RPC 调用次数
	resetTime   time.Time // 下次重置时间（UTC 0 点）
	usageGauge  prometheus.Gauge
	statusGauge prometheus.Gauge
}

// NewQuotaMonitor 创建新的额度监控器
func NewQuotaMonitor() *QuotaMonitor {
	qm := &QuotaMonitor{
		usageGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_rpc_quota_usage_percent",
			Help: "Percentage of daily RPC quota used (0-100)",
		}),
		statusGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_rpc_quota_status",
			Help: "RPC quota status: 0=Safe, 1=Warning, 2=Critical",
		}),
	}
	qm.resetTime = qm.calculateNextReset()
	go qm.startResetTimer()

	slog.Info("🛡️ Quota monitor initialized",
		"max_daily_quota", MaxDailyQuota,
		"alert_threshold", AlertThreshold*100,
		"critical_threshold", CriticalThreshold*100)

	return qm
}

// Inc 每次调用 RPC 前调用此方法
func (m *QuotaMonitor) Inc() {
	current := atomic.AddUint64(&m.dailyCalls, 1)
	usagePercent := float64(current) / float64(MaxDailyQuota)

	m.usageGauge.Set(usagePercent * 100)

	status := 0.0 // Safe
	if usagePercent >= CriticalThreshold {
		status = 2.0 // Critical
	} else if usagePercent >= AlertThreshold {
		status = 1.0 // Warning
	}
	m.statusGauge.Set(status)

	// 阈值检查（每 100 次检查一次，避免日志刷屏）
	if current%100 == 0 {
		if usagePercent >= CriticalThreshold {
			slog.Error("🛑 CRITICAL: RPC quota nearly exhausted!",
				"usage_percent", usagePercent*100,
				"calls", current,
				"max_quota", MaxDailyQuota,
				"action", "pause_non_essential_dispatch")
		} else if usagePercent >= AlertThreshold {
			slog.Warn("⚠️  QUOTA WARNING: RPC usage exceeds threshold",
				"usage_percent", usagePercent*100,
				"calls", current,
				"max_quota", MaxDailyQuota,
				"remaining", MaxDailyQuota-current)
		}
	}
}

// Usage returns the fraction of the daily budget consumed so far.
func (m *QuotaMonitor) Usage() float64 {
	return float64(atomic.LoadUint64(&m.dailyCalls)) / float64(MaxDailyQuota)
}

// Calls returns the raw call count since the last reset.
func (m *QuotaMonitor) Calls() uint64 {
	return atomic.LoadUint64(&m.dailyCalls)
}

// calculateNextReset 计算下次 UTC 0 点
func (m *QuotaMonitor) calculateNextReset() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// startResetTimer 在每天 UTC 0 点清零计数
func (m *QuotaMonitor) startResetTimer() {
	for {
		wait := time.Until(m.resetTime)
		if wait > 0 {
			time.Sleep(wait)
		}
		atomic.StoreUint64(&m.dailyCalls, 0)
		m.usageGauge.Set(0)
		m.statusGauge.Set(0)
		m.resetTime = m.calculateNextReset()
		slog.Info("🔄 Daily RPC quota counter reset",
			"next_reset", m.resetTime.Format(time.RFC3339))
	}
}
