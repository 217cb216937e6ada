package main

import (
	"encoding/json"
	"net/http"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/engine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsMux exposes Prometheus metrics plus a small JSON status
// surface for humans (redacted endpoint identities only).
func newMetricsMux(lb *engine.LoadBalancer, rpc *engine.RPCManager, head *engine.ChainHeadMonitor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balancer":        lb.Stats(),
			"rpc_endpoints":   rpc.Stats(),
			"chain_head":      head.Head(),
			"head_staleness":  head.Staleness().String(),
			"healthy_rpc":     rpc.HealthyEndpointCount(),
		})
	})
	return mux
}
