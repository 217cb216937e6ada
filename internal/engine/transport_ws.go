package engine

import (
	"net/http"
	"sync"
	"time"

	"github.com/aurisvision/monad-trading-bot-sub005/internal/recovery"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var workerUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Workers are trusted local processes; non-browser clients send no Origin.
	CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == ""
	},
}

// WSChannel adapts a websocket connection to the Channel interface so
// worker processes can attach to the balancer over the wire. Frames are
// JSON-encoded Messages. gorilla allows only one concurrent writer, so
// all outbound frames funnel through a single writer goroutine.
type WSChannel struct {
	conn *websocket.Conn
	send chan Message
	recv chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel wraps an established websocket connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		send: make(chan Message, wsSendBuffer),
		recv: make(chan Message, wsSendBuffer),
		done: make(chan struct{}),
	}
	recovery.WithRecoveryNamed("ws_channel_writer", c.writeLoop)
	recovery.WithRecoveryNamed("ws_channel_reader", c.readLoop)
	return c
}

func (c *WSChannel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				Logger.Warn("ws_channel_write_failed", "error", err.Error())
				_ = c.Close()
				return
			}
		}
	}
}

func (c *WSChannel) readLoop() {
	// recv is closed here and only here, after the socket is torn down,
	// so Close never races a pending delivery.
	defer func() {
		_ = c.Close()
		close(c.recv)
	}()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case c.recv <- msg:
		case <-c.done:
			return
		}
	}
}

// Send queues a frame for the writer goroutine.
func (c *WSChannel) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case c.send <- msg:
		return nil
	default:
		return ErrChannelClosed
	}
}

// Recv returns the inbound message stream; it closes when the socket dies.
func (c *WSChannel) Recv() <-chan Message {
	return c.recv
}

// Close tears the socket down; safe to call multiple times.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// WorkerSocketHandler returns an http.Handler that upgrades incoming
// worker connections and registers them with the balancer. The worker
// identifies itself with the ?id= query parameter; its registration
// lives exactly as long as the socket.
func WorkerSocketHandler(lb *LoadBalancer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workerID := r.URL.Query().Get("id")
		if workerID == "" {
			http.Error(w, "missing worker id", http.StatusBadRequest)
			return
		}

		conn, err := workerUpgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Warn("worker_socket_upgrade_failed",
				"worker_id", workerID,
				"error", err.Error(),
			)
			return
		}

		ch := NewWSChannel(conn)
		if err := lb.RegisterWorker(workerID, ch); err != nil {
			Logger.Warn("worker_socket_rejected",
				"worker_id", workerID,
				"error", err.Error(),
			)
			_ = ch.Close()
		}
	})
}
