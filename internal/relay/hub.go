// Package relay implements the signaling relay: a WebSocket endpoint that
// forwards every message received from one peer to all other peers.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/peersync/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// Options bounds what a single relay connection may consume.
type Options struct {
	MaxMessageBytes int64   // inbound frame limit; larger frames close the connection
	QueueSize       int     // outbound queue per connection; overflow closes it
	MessageRate     float64 // sustained inbound messages per second
	Burst           int     // inbound burst allowance
}

// DefaultOptions mirrors the limits a browser signaling peer needs: SDP and a
// few dozen candidates per negotiation.
func DefaultOptions() Options {
	return Options{
		MaxMessageBytes: 64 * 1024,
		QueueSize:       256,
		MessageRate:     50,
		Burst:           100,
	}
}

// Hub tracks connected peers and fans messages out between them.
type Hub struct {
	opts Options

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	return &Hub{
		opts:    opts,
		clients: make(map[*client]struct{}),
	}
}

// client is one relay connection with its own writer goroutine.
type client struct {
	conn    *websocket.Conn
	queue   chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// ServeHTTP upgrades the request and relays until the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(h.opts.MaxMessageBytes)

	c := &client{
		conn:    conn,
		queue:   make(chan []byte, h.opts.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.Burst),
		closed:  make(chan struct{}),
	}

	h.join(c)
	defer h.leave(c)

	go c.writeLoop()
	h.readLoop(c)
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll drops every connected peer.
func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	util.LogInfo("relay: peer %s joined (%d connected)", c.conn.RemoteAddr(), n)
}

func (h *Hub) leave(c *client) {
	c.close()
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	util.LogInfo("relay: peer %s left (%d connected)", c.conn.RemoteAddr(), n)
}

// readLoop reads frames from c and broadcasts each valid JSON object.
func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if !c.limiter.Allow() {
			util.LogWarning("relay: rate limit exceeded by %s, dropping message", c.conn.RemoteAddr())
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			util.LogWarning("relay: invalid JSON from %s: %v", c.conn.RemoteAddr(), err)
			continue
		}

		h.broadcast(c, data)
	}
}

// broadcast enqueues data on every client except from. A client whose queue
// is full is closed rather than allowed to stall the relay.
func (h *Hub) broadcast(from *client, data []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.queue <- data:
		case <-c.closed:
		default:
			util.LogWarning("relay: write queue overflow for %s, closing", c.conn.RemoteAddr())
			c.close()
		}
	}
}

// writeLoop is the single writer for c.conn.
func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogWarning("relay: write to %s failed: %v", c.conn.RemoteAddr(), err)
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
