package engine

import (
	"log/slog"
	"os"
)

// Logger 全局结构化日志器
var Logger *slog.Logger = slog.Default()

// InitLogger 初始化结构化日志
func InitLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	// 根据环境变量选择输出格式
	if os.Getenv("LOG_FORMAT") == "text" {
		// 文本格式，便于开发调试
		Logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		// JSON 格式，便于日志收集系统处理
		Logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	slog.SetDefault(Logger)
}

// LogWorkerRegistered 记录 worker 注册日志
func LogWorkerRegistered(workerID string, total int) {
	Logger.Info("worker_registered",
		slog.String("worker_id", workerID),
		slog.Int("total_workers", total),
	)
}

// LogWorkerUnregistered 记录 worker 注销日志
func LogWorkerUnregistered(workerID string, reason string) {
	Logger.Info("worker_unregistered",
		slog.String("worker_id", workerID),
		slog.String("reason", reason),
	)
}

// LogWorkerUnhealthy 记录 worker 失联日志
func LogWorkerUnhealthy(workerID string, sinceLastReport float64) {
	Logger.Warn("🚨 WORKER_UNHEALTHY",
		slog.String("worker_id", workerID),
		slog.Float64("since_last_report_seconds", sinceLastReport),
	)
}

// LogWorkerRecovered 记录 worker 恢复日志
func LogWorkerRecovered(workerID string) {
	Logger.Info("✅ WORKER_RECOVERED",
		slog.String("worker_id", workerID),
	)
}

// LogQueueFull 记录队列拒绝日志
func LogQueueFull(depth, maxSize int) {
	Logger.Error("request_queue_full",
		slog.Int("depth", depth),
		slog.Int("max_size", maxSize),
	)
}

// LogQueueDrop 记录过期请求丢弃日志
func LogQueueDrop(requestID string, ageSeconds float64) {
	Logger.Warn("queued_request_dropped",
		slog.String("request_id", requestID),
		slog.Float64("age_seconds", ageSeconds),
	)
}

// LogDispatchTimeout 记录派发超时日志
func LogDispatchTimeout(requestID, workerID string) {
	Logger.Warn("dispatch_timeout",
		slog.String("request_id", requestID),
		slog.String("worker_id", workerID),
	)
}

// LogBreakerStateChange 记录熔断器状态迁移日志
func LogBreakerStateChange(name string, from, to BreakerState) {
	if to == StateOpen {
		Logger.Warn("🛑 CIRCUIT_BREAKER_OPEN",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return
	}
	Logger.Info("circuit_breaker_state_change",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// LogEndpointSwitch 记录 RPC 端点切换日志
func LogEndpointSwitch(from, to string, reason string) {
	Logger.Warn("rpc_endpoint_switch",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
	)
}

// LogCooldownStart 记录限流冷却开始日志
func LogCooldownStart(endpoint string, cooldownSeconds float64) {
	Logger.Warn("⏳ RPC_RATE_LIMIT_COOLDOWN",
		slog.String("endpoint", endpoint),
		slog.Float64("cooldown_seconds", cooldownSeconds),
	)
}

// LogCooldownEnd 记录限流冷却结束日志
func LogCooldownEnd(endpoint string) {
	Logger.Info("✅ RPC_ENDPOINT_REENABLED",
		slog.String("endpoint", endpoint),
	)
}

// LogRPCConnectAttempt 记录 RPC 连接尝试日志
func LogRPCConnectAttempt(endpoint string, attempt int) {
	Logger.Debug("rpc_connect_attempt",
		slog.String("endpoint", endpoint),
		slog.Int("attempt", attempt),
	)
}

// LogRPCConnectFailed 记录 RPC 连接失败日志
func LogRPCConnectFailed(endpoint string, attempt int, err error) {
	Logger.Warn("rpc_connect_failed",
		slog.String("endpoint", endpoint),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogRPCConnected 记录 RPC 连接成功日志
func LogRPCConnected(endpoint string, latencySeconds float64) {
	Logger.Info("rpc_connected",
		slog.String("endpoint", endpoint),
		slog.Float64("latency_seconds", latencySeconds),
	)
}
