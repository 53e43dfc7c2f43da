package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/peersync/internal/signaling"
)

var errNoRemote = errors.New("remote description not set")

// fakeSession is an in-memory Session that records every call.
type fakeSession struct {
	mu sync.Mutex

	role   Role
	events SessionEvents

	offerSDP  string
	answerSDP string
	remoteErr error
	gate      chan struct{} // when set, CreateOffer waits for it to close

	remote     []string
	candidates []signaling.Candidate
	early      int // candidates added before a remote description
	closed     int
	channel    *fakeChannel
}

func (s *fakeSession) CreateOffer() (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	return s.offerSDP, nil
}

func (s *fakeSession) CreateAnswer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remote) == 0 {
		return "", errNoRemote
	}
	return s.answerSDP, nil
}

func (s *fakeSession) SetRemoteDescription(kind SDPKind, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteErr != nil {
		return s.remoteErr
	}
	s.remote = append(s.remote, fmt.Sprintf("%s:%s", kind, sdp))
	return nil
}

func (s *fakeSession) AddCandidate(c signaling.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remote) == 0 {
		s.early++
		return errNoRemote
	}
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *fakeSession) SyncChannel() SyncChannel {
	return s.channel
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) snapshot() (remote []string, candidates []signaling.Candidate, closed, early int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.remote...),
		append([]signaling.Candidate(nil), s.candidates...),
		s.closed, s.early
}

// fakeFactory hands out fakeSessions and remembers them.
type fakeFactory struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	offerSDP  string
	answerSDP string
	gate      chan struct{}
	remoteErr error
	err       error
}

func (f *fakeFactory) create(role Role, events SessionEvents) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{
		role:      role,
		events:    events,
		offerSDP:  f.offerSDP,
		answerSDP: f.answerSDP,
		gate:      f.gate,
		remoteErr: f.remoteErr,
		channel:   &fakeChannel{},
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeChannel is a SyncChannel that drops everything.
type fakeChannel struct{}

func (*fakeChannel) Send([]byte) error        { return nil }
func (*fakeChannel) OnMessage(func([]byte)) {}

// recordSender captures outbound signaling messages and optionally forwards
// them to another negotiator.
type recordSender struct {
	mu      sync.Mutex
	sent    []signaling.Message
	from    string
	forward *Negotiator
}

func (r *recordSender) Send(msg signaling.Message) {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	fwd := r.forward
	r.mu.Unlock()

	if fwd != nil {
		fwd.HandleMessage(signaling.Envelope{From: r.from, Message: msg})
	}
}

func (r *recordSender) messages() []signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Message(nil), r.sent...)
}

func candidate(n int) signaling.Candidate {
	return signaling.Candidate{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000 typ host", n, n),
		SDPMid:        "0",
		SDPMLineIndex: 0,
	}
}
