package app

import (
	"sync"

	"github.com/1ureka/peersync/internal/session"
	"github.com/1ureka/peersync/internal/signaling"
)

// loopSession is a peer session that "connects" as soon as negotiation
// completes: on CreateAnswer for the responder, on the remote answer for the
// initiator. Its sync channel is joined to the other session's through a
// bridge.
type loopSession struct {
	role   session.Role
	events session.SessionEvents
	ch     *memChannel
}

func (s *loopSession) CreateOffer() (string, error) { return "O1", nil }

func (s *loopSession) CreateAnswer() (string, error) {
	s.up()
	return "A1", nil
}

func (s *loopSession) SetRemoteDescription(kind session.SDPKind, _ string) error {
	if kind == session.SDPAnswer {
		s.up()
	}
	return nil
}

func (s *loopSession) AddCandidate(signaling.Candidate) error { return nil }
func (s *loopSession) SyncChannel() session.SyncChannel      { return s.ch }
func (s *loopSession) Close() error                           { return nil }

func (s *loopSession) up() {
	s.events.OnCandidate(signaling.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host", SDPMid: "0"})
	s.events.OnConnected()
	s.events.OnSyncOpen()
}

// bridge pairs the sync channels of the sessions it creates.
type bridge struct {
	mu    sync.Mutex
	chans []*memChannel
}

func (b *bridge) factory(role session.Role, events session.SessionEvents) (session.Session, error) {
	ch := &memChannel{b: b}
	b.mu.Lock()
	b.chans = append(b.chans, ch)
	b.mu.Unlock()
	return &loopSession{role: role, events: events, ch: ch}, nil
}

func (b *bridge) peerOf(c *memChannel) *memChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.chans) - 1; i >= 0; i-- {
		if b.chans[i] != c {
			return b.chans[i]
		}
	}
	return nil
}

type memChannel struct {
	b       *bridge
	mu      sync.Mutex
	handler func([]byte)
}

func (c *memChannel) Send(data []byte) error {
	if peer := c.b.peerOf(c); peer != nil {
		peer.deliver(data)
	}
	return nil
}

func (c *memChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *memChannel) deliver(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}
