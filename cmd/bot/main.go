package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/config"
	"github.com/aurisvision/monad-trading-bot-sub005/internal/engine"
	"github.com/aurisvision/monad-trading-bot-sub005/internal/monitor"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	engine.InitLogger(cfg.LogLevel)

	slog.Info("🚀 dispatch layer starting",
		"rpc_endpoints", len(cfg.RPCURLs),
		"chain_id", cfg.ChainID,
		"metrics_addr", cfg.MetricsAddr,
		"worker_listen_addr", cfg.WorkerListenAddr,
	)

	quota := monitor.NewQuotaMonitor()
	rpc, err := engine.NewRPCManager(engine.RPCManagerConfig{
		Endpoints:           cfg.RPCURLs,
		MaxRetries:          cfg.RPCMaxRetries,
		RetryDelay:          cfg.RPCRetryDelay,
		RateLimitCooldown:   cfg.RPCRateLimitCooldown,
		RateLimitRetryDelay: cfg.RPCRateLimitRetryDelay,
		ProbeTimeout:        cfg.RPCProbeTimeout,
		EndpointRPS:         cfg.RPCEndpointRPS,
	}, engine.WithQuotaMonitor(quota))
	if err != nil {
		slog.Error("rpc_manager_init_failed", "error", err.Error())
		os.Exit(1)
	}

	lb := engine.NewLoadBalancer(engine.BalancerConfig{
		HealthCheckInterval: cfg.HealthCheckInterval,
		DispatchTimeout:     cfg.DispatchTimeout,
		MaxQueueSize:        cfg.MaxQueueSize,
		MaxRequeueAge:       cfg.MaxRequeueAge,
		ShutdownMaxWait:     cfg.ShutdownMaxWait,
	})
	lb.Start()

	head := engine.NewChainHeadMonitor(rpc, engine.BreakerConfig{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		ResetTimeout:      cfg.BreakerResetTimeout,
		HalfOpenSuccesses: cfg.BreakerHalfOpenSuccesses,
	}, 5*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	head.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMetricsMux(lb, rpc, head),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("metrics_server_listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	workerSrv := &http.Server{
		Addr:              cfg.WorkerListenAddr,
		Handler:           engine.WorkerSocketHandler(lb),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("worker_socket_listening", "addr", cfg.WorkerListenAddr)
		if err := workerSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown_signal_received")

		head.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownMaxWait+5*time.Second)
		defer cancel()
		if err := lb.GracefulShutdown(drainCtx); err != nil {
			slog.Warn("graceful_shutdown_error", "error", err.Error())
		}

		shutdownCtx, cancelSrv := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelSrv()
		_ = workerSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("dispatch_layer_exit", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("👋 dispatch layer stopped")
}
