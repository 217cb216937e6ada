package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the dispatch and failover layer.
// All values come from the environment (a .env file is optional) and
// every knob has a safe default, so an empty environment still boots.
type Config struct {
	// RPC failover
	RPCURLs                []string // 支持多个RPC URL（逗号分隔，按优先级排序）
	ChainID                int64
	RPCMaxRetries          int
	RPCRetryDelay          time.Duration // linear backoff base
	RPCRateLimitCooldown   time.Duration // 429 冷却时间
	RPCRateLimitRetryDelay time.Duration // fixed delay after a 429 switch
	RPCProbeTimeout        time.Duration
	RPCEndpointRPS         int // per-endpoint rate limit

	// Load balancer
	HealthCheckInterval time.Duration
	DispatchTimeout     time.Duration
	MaxQueueSize        int
	MaxRequeueAge       time.Duration
	ShutdownMaxWait     time.Duration

	// Circuit breaker
	BreakerFailureThreshold  int
	BreakerResetTimeout      time.Duration
	BreakerHalfOpenSuccesses int

	// Process-level
	LogLevel         string
	LogFormat        string
	MetricsAddr      string
	WorkerListenAddr string // WebSocket endpoint worker processes attach to
}

func Load() *Config {
	_ = godotenv.Load() // .env文件是可选的

	// 解析RPC URL列表（支持逗号分隔）
	rpcUrlsStr := getEnv("RPC_URLS", "https://testnet-rpc.monad.xyz")
	rpcUrls := strings.Split(rpcUrlsStr, ",")
	for i, url := range rpcUrls {
		rpcUrls[i] = strings.TrimSpace(url)
	}

	return &Config{
		RPCURLs:                rpcUrls,
		ChainID:                getEnvAsInt64("CHAIN_ID", 10143), // Monad testnet
		RPCMaxRetries:          int(getEnvAsInt64("RPC_MAX_RETRIES", 3)),
		RPCRetryDelay:          getEnvAsDuration("RPC_RETRY_DELAY", time.Second),
		RPCRateLimitCooldown:   getEnvAsDuration("RPC_RATE_LIMIT_COOLDOWN", 60*time.Second),
		RPCRateLimitRetryDelay: getEnvAsDuration("RPC_RATE_LIMIT_RETRY_DELAY", 500*time.Millisecond),
		RPCProbeTimeout:        getEnvAsDuration("RPC_PROBE_TIMEOUT", 10*time.Second),
		RPCEndpointRPS:         int(getEnvAsInt64("RPC_ENDPOINT_RPS", 20)),

		HealthCheckInterval: getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		DispatchTimeout:     getEnvAsDuration("DISPATCH_TIMEOUT", 30*time.Second),
		MaxQueueSize:        int(getEnvAsInt64("MAX_QUEUE_SIZE", 1000)),
		MaxRequeueAge:       getEnvAsDuration("MAX_REQUEUE_AGE", 5*time.Minute),
		ShutdownMaxWait:     getEnvAsDuration("SHUTDOWN_MAX_WAIT", 30*time.Second),

		BreakerFailureThreshold:  int(getEnvAsInt64("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerResetTimeout:      getEnvAsDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),
		BreakerHalfOpenSuccesses: int(getEnvAsInt64("BREAKER_HALF_OPEN_SUCCESSES", 3)),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		WorkerListenAddr: getEnv("WORKER_LISTEN_ADDR", ":8546"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration parses values like "30s" or "500ms"; bare integers are
// treated as seconds for compatibility with older deployment scripts.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %v", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
