package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peersync/internal/util"
)

// maxMessageSize caps a single inbound signaling message.
const maxMessageSize = 64 * 1024

// LinkStatus is the connectivity of a Link to its relay.
type LinkStatus int

const (
	StatusDisconnected LinkStatus = iota
	StatusConnected
)

func (s LinkStatus) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Link is a persistent message channel to a signaling relay. It redials on
// unexpected closure according to its Backoff until Disconnect is called.
//
// Inbound messages are handed to the OnMessage handler one at a time, in
// receipt order, from the link's read goroutine. Outbound messages are never
// buffered across a reconnect.
type Link struct {
	url     string
	localID string
	policy  Backoff
	dialer  *websocket.Dialer

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	handler  func(Envelope)
	statusFn func(LinkStatus)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLink creates a Link to the relay at url. localID is stamped on every
// outbound message as "from".
func NewLink(url, localID string, policy Backoff) *Link {
	return &Link{
		url:     url,
		localID: localID,
		policy:  policy,
		dialer:  websocket.DefaultDialer,
	}
}

// OnMessage registers the inbound message handler. Must be called before Connect.
func (l *Link) OnMessage(fn func(Envelope)) {
	l.mu.Lock()
	l.handler = fn
	l.mu.Unlock()
}

// OnStatus registers a callback for connected/disconnected transitions.
func (l *Link) OnStatus(fn func(LinkStatus)) {
	l.mu.Lock()
	l.statusFn = fn
	l.mu.Unlock()
}

// Connect starts the dial/read/redial loop in the background. Calling it on
// an already running Link is a no-op.
func (l *Link) Connect(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx, l.done)
}

// Disconnect stops reconnecting, closes the current connection and waits for
// the background loop to exit. Safe to call more than once.
func (l *Link) Disconnect() {
	l.mu.Lock()
	cancel, done, conn := l.cancel, l.done, l.conn
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

// Send writes msg to the relay. Signaling is best-effort: if the link is not
// currently connected, or the write fails, the failure is logged and the
// message is dropped.
func (l *Link) Send(msg Message) {
	data, err := Encode(l.localID, msg)
	if err != nil {
		util.LogWarning("signaling: %v", err)
		return
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		util.LogWarning("signaling: relay not connected, dropped %s", msg.Type())
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		util.LogWarning("signaling: failed to send %s: %v", msg.Type(), err)
		return
	}

	util.Stats.AddSignalSent()
}

// Connected reports whether the link currently holds an open connection.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// ---------------------------------------------------------------------------
// Background loop
// ---------------------------------------------------------------------------

// run dials, reads until the connection drops, then waits one backoff
// interval and dials again. It exits only when ctx is cancelled.
func (l *Link) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			util.LogWarning("signaling: failed to connect to relay %s: %v", l.url, err)
		} else {
			// Cancellation must unblock ReadMessage even if Disconnect ran
			// before this conn was attached.
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			l.attach(conn)

			err = l.readLoop(conn)

			stop()
			l.detach(conn)
			if ctx.Err() != nil {
				return
			}
			util.LogWarning("signaling: relay connection lost: %v", err)
		}

		if l.policy.Wait(ctx) != nil {
			return
		}
		util.Stats.AddReconnect()
		util.LogDebug("signaling: reconnecting to %s", l.url)
	}
}

func (l *Link) attach(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)

	l.mu.Lock()
	l.conn = conn
	statusFn := l.statusFn
	l.mu.Unlock()

	util.LogInfo("signaling: connected to relay %s", l.url)
	if statusFn != nil {
		statusFn(StatusConnected)
	}
}

func (l *Link) detach(conn *websocket.Conn) {
	conn.Close()

	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	statusFn := l.statusFn
	l.mu.Unlock()

	if statusFn != nil {
		statusFn(StatusDisconnected)
	}
}

// readLoop decodes and delivers messages until the connection fails.
// Undecodable or unknown messages are logged and skipped.
func (l *Link) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		util.Stats.AddSignalRecv()

		env, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				util.LogDebug("signaling: ignoring message: %v", err)
			} else {
				util.LogWarning("signaling: dropping malformed message: %v", err)
			}
			continue
		}

		l.mu.Lock()
		handler := l.handler
		l.mu.Unlock()

		if handler != nil {
			handler(env)
		}
	}
}
