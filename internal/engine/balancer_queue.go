package engine

import (
	"encoding/json"
	"time"
)

// queuedRequest is one unit of pending work in the backlog. Owned by the
// LoadBalancer, guarded by queueMu.
type queuedRequest struct {
	id         string
	payload    json.RawMessage
	enqueuedAt time.Time
}

// QueueRequest admits a payload into the bounded backlog and returns its
// request id. Admission control is strict: at MaxQueueSize the call is
// rejected with ErrQueueFull and the queue is untouched.
func (lb *LoadBalancer) QueueRequest(payload json.RawMessage) (string, error) {
	if lb.shuttingDown.Load() {
		return "", ErrShuttingDown
	}

	lb.queueMu.Lock()
	if len(lb.queue) >= lb.cfg.MaxQueueSize {
		depth := len(lb.queue)
		lb.queueMu.Unlock()
		lb.metrics.QueueRejected.Inc()
		LogQueueFull(depth, lb.cfg.MaxQueueSize)
		return "", ErrQueueFull
	}
	req := &queuedRequest{
		id:         lb.newRequestID(),
		payload:    payload,
		enqueuedAt: lb.clock.Now(),
	}
	lb.queue = append(lb.queue, req)
	depth := len(lb.queue)
	lb.queueMu.Unlock()

	lb.metrics.QueueDepth.Set(float64(depth))
	lb.triggerDrain()
	return req.id, nil
}

// QueueDepth returns the current backlog size.
func (lb *LoadBalancer) QueueDepth() int {
	lb.queueMu.Lock()
	defer lb.queueMu.Unlock()
	return len(lb.queue)
}

// drainLoop waits for drain triggers (enqueue, health tick, worker
// registration or recovery) and works the backlog down.
func (lb *LoadBalancer) drainLoop() {
	for {
		select {
		case <-lb.stopCh:
			return
		case <-lb.drainSignal:
			lb.drainQueue()
		}
	}
}

// drainQueue dispatches FIFO while a healthy worker is available. When
// none is, it simply stops (no error) until the next trigger. A failed
// dispatch is reinserted at the FRONT if the request is still young
// enough; otherwise it is dropped and reported.
func (lb *LoadBalancer) drainQueue() {
	for {
		select {
		case <-lb.stopCh:
			return
		default:
		}

		lb.queueMu.Lock()
		if len(lb.queue) == 0 {
			lb.queueMu.Unlock()
			lb.metrics.QueueDepth.Set(0)
			return
		}
		req := lb.queue[0]
		lb.queue = lb.queue[1:]
		depth := len(lb.queue)
		lb.queueMu.Unlock()
		lb.metrics.QueueDepth.Set(float64(depth))

		if err := lb.dispatchQueued(req); err != nil {
			age := lb.clock.Now().Sub(req.enqueuedAt)
			if age < lb.cfg.MaxRequeueAge {
				lb.requeueFront(req)
			} else {
				lb.metrics.QueueDropped.Inc()
				LogQueueDrop(req.id, age.Seconds())
			}
			// no healthy worker (or a dead channel): pause draining until
			// the next health tick or registration wakes us
			return
		}
	}
}

// dispatchQueued sends one backlog item to a worker without waiting for
// its completion; request_complete is accounted by handleWorkerMessage
// like any other.
func (lb *LoadBalancer) dispatchQueued(req *queuedRequest) error {
	lb.mu.Lock()
	w, err := lb.selectLocked(StrategyLeastConnections)
	if err != nil {
		lb.mu.Unlock()
		return err
	}
	w.load++
	ch := w.ch
	workerID := w.id
	lb.mu.Unlock()

	if err := ch.Send(Message{
		Type:      MsgRequest,
		RequestID: req.id,
		Data:      req.payload,
	}); err != nil {
		lb.mu.Lock()
		if w, ok := lb.workers[workerID]; ok && w.load > 0 {
			w.load--
		}
		lb.mu.Unlock()
		return err
	}
	lb.metrics.RequestsDispatched.Inc()
	return nil
}

// requeueFront reinserts a failed dispatch at the head of the backlog so
// FIFO order is preserved for everything behind it. The size bound is
// deliberately not enforced here: the item was already admitted once.
func (lb *LoadBalancer) requeueFront(req *queuedRequest) {
	lb.queueMu.Lock()
	lb.queue = append([]*queuedRequest{req}, lb.queue...)
	depth := len(lb.queue)
	lb.queueMu.Unlock()
	lb.metrics.QueueRequeued.Inc()
	lb.metrics.QueueDepth.Set(float64(depth))
}
