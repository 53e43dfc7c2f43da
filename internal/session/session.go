// Package session drives peer session setup: it turns signaling messages and
// transport events into offer/answer negotiation, buffering early remote
// candidates until the session can accept them.
package session

import (
	"github.com/1ureka/peersync/internal/signaling"
)

// Sender delivers signaling messages to the remote peer. Sends are
// best-effort; failures are the sender's to log.
type Sender interface {
	Send(signaling.Message)
}

// SyncChannel is the auxiliary low-latency channel carried by a session.
type SyncChannel interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
}

// Session is the peer session object: one peer connection plus its sync
// channel. CreateOffer and CreateAnswer also apply the result as the local
// description.
type Session interface {
	CandidateSink
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(kind SDPKind, sdp string) error
	SyncChannel() SyncChannel
	Close() error
}

// SessionEvents are the callbacks a Session reports transport events through.
// They may be invoked from any goroutine.
type SessionEvents struct {
	OnCandidate func(signaling.Candidate)
	OnConnected func()
	OnFailed    func(reason string)
	OnSyncOpen  func()
}

// SessionFactory creates a Session for the given role.
type SessionFactory func(role Role, events SessionEvents) (Session, error)
