package engine

import "sync"

// Channel is the asynchronous message link between the dispatcher and one
// worker. Per-channel message order is preserved; there is no ordering
// across channels. Recv's channel closes when the peer goes away, which
// the balancer treats as a worker exit.
type Channel interface {
	Send(msg Message) error
	Recv() <-chan Message
	Close() error
}

const pipeBuffer = 64

// Pipe is the in-process Channel implementation, used by embedded workers
// and by tests. NewPipe returns the two connected ends: what one end
// Sends, the other end Recvs.
type Pipe struct {
	out chan Message
	in  chan Message

	// shared by both ends so Send/Close never race on a closed chan
	mu     *sync.Mutex
	closed *bool
}

// NewPipe creates a connected channel pair.
func NewPipe() (*Pipe, *Pipe) {
	a2b := make(chan Message, pipeBuffer)
	b2a := make(chan Message, pipeBuffer)
	var mu sync.Mutex
	var closed bool
	a := &Pipe{out: a2b, in: b2a, mu: &mu, closed: &closed}
	b := &Pipe{out: b2a, in: a2b, mu: &mu, closed: &closed}
	return a, b
}

// Send delivers msg to the other end. It never blocks: a full buffer
// means the peer stopped draining, which is reported as a dead channel.
func (p *Pipe) Send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *p.closed {
		return ErrChannelClosed
	}
	select {
	case p.out <- msg:
		return nil
	default:
		return ErrChannelClosed
	}
}

// Recv returns the inbound message stream.
func (p *Pipe) Recv() <-chan Message {
	return p.in
}

// Close tears down both directions; the peer observes its Recv closing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *p.closed {
		return nil
	}
	*p.closed = true
	close(p.out)
	close(p.in)
	return nil
}
