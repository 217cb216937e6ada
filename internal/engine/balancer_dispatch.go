package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// DistributeRequest selects a worker (least-connections), sends the
// payload tagged with a unique request id, and blocks the caller until
// the correlated request_complete arrives or the dispatch timeout fires.
//
// On timeout the completion listener is torn down but the worker's load
// is NOT decremented: the worker is still expected to eventually report
// completion, and periodic health reports reconcile the load either way.
// That trades perfect load accounting for simplicity, deliberately.
func (lb *LoadBalancer) DistributeRequest(ctx context.Context, payload json.RawMessage) error {
	if lb.shuttingDown.Load() {
		return ErrShuttingDown
	}

	lb.mu.Lock()
	w, err := lb.selectLocked(StrategyLeastConnections)
	if err != nil {
		lb.mu.Unlock()
		return err
	}
	w.load++
	workerID, ch := w.id, w.ch
	lb.mu.Unlock()

	reqID := lb.newRequestID()
	waiter := lb.addPending(reqID)
	start := lb.clock.Now()

	sendErr := ch.Send(Message{
		Type:      MsgRequest,
		RequestID: reqID,
		Data:      payload,
	})
	if sendErr != nil {
		lb.removePending(reqID)
		lb.mu.Lock()
		if w, ok := lb.workers[workerID]; ok && w.load > 0 {
			w.load--
		}
		lb.mu.Unlock()
		return fmt.Errorf("dispatch to %s: %w", workerID, sendErr)
	}
	lb.metrics.RequestsDispatched.Inc()

	select {
	case msg := <-waiter:
		lb.metrics.DispatchLatency.Observe(lb.clock.Now().Sub(start).Seconds())
		if msg.Type == MsgError {
			return fmt.Errorf("worker %s: %s", workerID, msg.Error)
		}
		return nil
	case <-lb.clock.After(lb.cfg.DispatchTimeout):
		lb.removePending(reqID)
		lb.metrics.DispatchTimeouts.Inc()
		LogDispatchTimeout(reqID, workerID)
		return ErrDispatchTimeout
	case <-ctx.Done():
		lb.removePending(reqID)
		return ctx.Err()
	}
}

// addPending registers a completion waiter for one request id.
func (lb *LoadBalancer) addPending(reqID string) chan Message {
	waiter := make(chan Message, 1)
	lb.pendingMu.Lock()
	lb.pending[reqID] = waiter
	lb.pendingMu.Unlock()
	return waiter
}

// removePending tears down a waiter; used on timeout and cancellation.
func (lb *LoadBalancer) removePending(reqID string) {
	lb.pendingMu.Lock()
	delete(lb.pending, reqID)
	lb.pendingMu.Unlock()
}

// deliverPending hands a completion/error message to its waiter, if one
// is still listening. Late completions after a timeout land here with no
// waiter and are dropped silently; the load bookkeeping already
// happened in handleWorkerMessage.
func (lb *LoadBalancer) deliverPending(msg Message) {
	lb.pendingMu.Lock()
	waiter, ok := lb.pending[msg.RequestID]
	if ok {
		delete(lb.pending, msg.RequestID)
	}
	lb.pendingMu.Unlock()
	if ok {
		waiter <- msg
	}
}
