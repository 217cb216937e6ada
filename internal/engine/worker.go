package engine

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the worker wire protocol.
type MessageType string

const (
	// dispatcher → worker
	MsgRequest     MessageType = "request"
	MsgHealthCheck MessageType = "health_check"

	// worker → dispatcher
	MsgHealth          MessageType = "health"
	MsgRequestComplete MessageType = "request_complete"
	MsgError           MessageType = "error"
)

// Message is one frame of the worker protocol. The payload is opaque to
// the dispatch layer.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Healthy   bool            `json:"healthy,omitempty"`
	Load      int             `json:"load,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// workerState is one registered worker. Owned by the LoadBalancer and
// mutated only under lb.mu; external readers get WorkerStats snapshots.
type workerState struct {
	id              string
	ch              Channel
	healthy         bool
	load            int // in-flight request count, never negative
	lastHealthCheck time.Time
	requestCount    int64
	errorCount      int64
}

// WorkerStats is the read snapshot of one worker.
type WorkerStats struct {
	ID              string    `json:"id"`
	Healthy         bool      `json:"healthy"`
	Load            int       `json:"load"`
	LastHealthCheck time.Time `json:"last_health_check"`
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
}

func (w *workerState) snapshot() WorkerStats {
	return WorkerStats{
		ID:              w.id,
		Healthy:         w.healthy,
		Load:            w.load,
		LastHealthCheck: w.lastHealthCheck,
		RequestCount:    w.requestCount,
		ErrorCount:      w.errorCount,
	}
}
