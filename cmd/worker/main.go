// Command worker is a standalone worker process. It attaches to the
// dispatcher's worker socket, executes incoming requests, and reports
// health and load back over the same connection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/engine"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	engine.InitLogger(getEnv("LOG_LEVEL", "info"))

	workerID := getEnv("WORKER_ID", "worker-"+uuid.NewString()[:8])
	dispatcherURL := getEnv("DISPATCHER_URL", "ws://localhost:8546") + "/?id=" + workerID

	conn, _, err := websocket.DefaultDialer.Dial(dispatcherURL, nil)
	if err != nil {
		slog.Error("dispatcher_dial_failed", "url", dispatcherURL, "error", err.Error())
		os.Exit(1)
	}
	ch := engine.NewWSChannel(conn)
	defer func() { _ = ch.Close() }()

	slog.Info("worker_attached", "worker_id", workerID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var load atomic.Int64

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker_stopping", "worker_id", workerID)
			return
		case msg, ok := <-ch.Recv():
			if !ok {
				slog.Warn("dispatcher_connection_lost", "worker_id", workerID)
				return
			}
			switch msg.Type {
			case engine.MsgHealthCheck:
				_ = ch.Send(engine.Message{
					Type:    engine.MsgHealth,
					Healthy: true,
					Load:    int(load.Load()),
				})
			case engine.MsgRequest:
				load.Add(1)
				go func(reqID string) {
					defer load.Add(-1)
					// placeholder for the actual swap/trade execution
					time.Sleep(50 * time.Millisecond)
					if err := ch.Send(engine.Message{
						Type:      engine.MsgRequestComplete,
						RequestID: reqID,
					}); err != nil {
						slog.Warn("completion_send_failed", "request_id", reqID)
					}
				}(msg.RequestID)
			}
		}
	}
}
