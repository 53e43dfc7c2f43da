package session

import (
	"context"
	"sync"

	"github.com/1ureka/peersync/internal/signaling"
	"github.com/1ureka/peersync/internal/util"
)

// queued is one pending event. gen is the session generation that produced
// it, or 0 for events not tied to a particular session.
type queued struct {
	gen uint64
	ev  Event
}

// Negotiator owns one peer's connection state and peer session. All state
// changes happen on the goroutine running Run, one event at a time in
// arrival order; every other method only enqueues.
type Negotiator struct {
	sender  Sender
	factory SessionFactory

	// Owned by the Run goroutine.
	status    Status
	buffer    *CandidateBuffer
	remoteSet bool // current session has accepted a remote description
	rejected  bool // the fresh session refused its first offer

	// queue is unbounded so that producers (link reader, pion callbacks)
	// never block and nothing is dropped.
	qmu    sync.Mutex
	queue  []queued
	notify chan struct{}

	mu       sync.Mutex
	session  Session
	gen      uint64
	state    State
	role     Role
	onState  []func(State)
	onSync   func(SyncChannel)
	onStream func(filePath string)
}

// NewNegotiator creates a negotiator in the Idle state. localID identifies
// this peer for glare resolution.
func NewNegotiator(localID string, sender Sender, factory SessionFactory) *Negotiator {
	return &Negotiator{
		sender:  sender,
		factory: factory,
		status:  Status{State: StateIdle, LocalID: localID},
		buffer:  NewCandidateBuffer(),
		notify:  make(chan struct{}, 1),
		state:   StateIdle,
	}
}

// OnStateChange registers a callback invoked after every state change.
func (n *Negotiator) OnStateChange(fn func(State)) {
	n.mu.Lock()
	n.onState = append(n.onState, fn)
	n.mu.Unlock()
}

// OnSyncChannel registers the callback that receives the sync channel once
// it is open.
func (n *Negotiator) OnSyncChannel(fn func(SyncChannel)) {
	n.mu.Lock()
	n.onSync = fn
	n.mu.Unlock()
}

// OnStreamRequested registers the callback invoked when the peer asks this
// side to stream a file.
func (n *Negotiator) OnStreamRequested(fn func(filePath string)) {
	n.mu.Lock()
	n.onStream = fn
	n.mu.Unlock()
}

// State returns the current connection state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Role returns which side of the offer/answer exchange this peer currently
// plays.
func (n *Negotiator) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// StartStream begins a negotiation as the initiator, asking the peer to
// stream filePath.
func (n *Negotiator) StartStream(filePath string) {
	n.post(0, StartRequested{FilePath: filePath})
}

// Restart abandons an offer the peer has not answered and sends a fresh
// StartStream and offer. It does nothing unless this side is negotiating as
// the initiator. Messages sent while the peer was absent from the relay are
// lost, so callers use this after a reconnect or a negotiation timeout.
func (n *Negotiator) Restart(filePath string) {
	n.post(0, RestartRequested{FilePath: filePath})
}

// Stop tears down the session. It releases the peer session immediately,
// even while a negotiation step is in flight, and is safe to call repeatedly.
func (n *Negotiator) Stop() {
	n.release()
	n.post(0, StopRequested{})
}

// HandleMessage feeds one inbound signaling message to the state machine.
// It is meant to be registered as a Link's OnMessage handler.
func (n *Negotiator) HandleMessage(env signaling.Envelope) {
	switch m := env.Message.(type) {
	case signaling.Offer:
		n.post(0, OfferReceived{From: env.From, SDP: m.SDP})
	case signaling.Answer:
		n.post(0, AnswerReceived{SDP: m.SDP})
	case signaling.Candidate:
		n.post(0, CandidateReceived{Candidate: m})
	case signaling.StartStream:
		n.post(0, StartStreamReceived{FilePath: m.FilePath})
	case signaling.StopStream:
		n.post(0, StopReceived{})
	default:
		util.LogDebug("session: ignoring %T", env.Message)
	}
}

func (n *Negotiator) post(gen uint64, ev Event) {
	n.qmu.Lock()
	n.queue = append(n.queue, queued{gen: gen, ev: ev})
	n.qmu.Unlock()

	select {
	case n.notify <- struct{}{}:
	default:
	}
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// Run processes events until ctx is cancelled, then releases the session.
func (n *Negotiator) Run(ctx context.Context) {
	defer n.release()

	for {
		select {
		case <-n.notify:
			n.drain()
		case <-ctx.Done():
			return
		}
	}
}

// drain processes queued events until the queue is empty.
func (n *Negotiator) drain() {
	for {
		n.qmu.Lock()
		if len(n.queue) == 0 {
			n.qmu.Unlock()
			return
		}
		item := n.queue[0]
		n.queue[0] = queued{}
		n.queue = n.queue[1:]
		n.qmu.Unlock()

		n.process(item)
	}
}

func (n *Negotiator) process(item queued) {
	if item.gen != 0 && item.gen != n.currentGen() {
		util.LogDebug("session: dropping %T from superseded session", item.ev)
		return
	}

	prev := n.status.State
	n.step(item.ev)
	if n.rejected {
		n.rejected = false
		n.step(OfferRejected{Prev: prev})
	}

	n.mu.Lock()
	n.role = n.status.Role
	n.mu.Unlock()

	if n.status.State != prev {
		n.publish(n.status.State)
	}
}

// step runs one transition and its effects.
func (n *Negotiator) step(ev Event) {
	next, effects := Transition(n.status, ev)
	n.status = next

	for _, fx := range effects {
		if !n.execute(fx) {
			break
		}
	}
}

func (n *Negotiator) publish(s State) {
	n.mu.Lock()
	n.state = s
	listeners := append([]func(State){}, n.onState...)
	n.mu.Unlock()

	util.LogInfo("session: %s", s)
	for _, fn := range listeners {
		fn(s)
	}
}

// ---------------------------------------------------------------------------
// Effects
// ---------------------------------------------------------------------------

// execute performs one effect. It returns false when the remaining effects
// of the batch must be skipped.
func (n *Negotiator) execute(fx Effect) bool {
	switch fx := fx.(type) {
	case OpenSession:
		return n.open(fx.Role)

	case CloseSession:
		n.release()

	case ResetBuffer:
		n.buffer.Reset()

	case Send:
		n.sender.Send(fx.Message)

	case SendOffer:
		return n.sendDescription(SDPOffer)

	case SendAnswer:
		return n.sendDescription(SDPAnswer)

	case ApplyRemote:
		sess, gen := n.current()
		if sess == nil {
			return false
		}
		err := sess.SetRemoteDescription(fx.Kind, fx.SDP)
		if gen != n.currentGen() {
			return false
		}
		if err != nil {
			util.LogWarning("session: failed to apply remote %s: %v", fx.Kind, err)
			if fx.Kind == SDPOffer && !n.remoteSet {
				n.rejected = true
			}
			return false
		}
		n.remoteSet = true

	case FlushCandidates:
		sess, _ := n.current()
		if sess == nil {
			return false
		}
		if flushed := n.buffer.MarkReady(sess); flushed > 0 {
			util.LogDebug("session: flushed %d early candidates", flushed)
		}

	case BufferCandidate:
		sess, _ := n.current()
		n.buffer.Offer(sess, fx.Candidate)

	case NotifyStreamRequested:
		n.mu.Lock()
		fn := n.onStream
		n.mu.Unlock()
		if fn != nil {
			fn(fx.FilePath)
		}

	case StartSync:
		sess, _ := n.current()
		n.mu.Lock()
		fn := n.onSync
		n.mu.Unlock()
		if sess != nil && fn != nil {
			fn(sess.SyncChannel())
		}
	}

	return true
}

// open creates a fresh session and binds its callbacks to a new generation.
func (n *Negotiator) open(role Role) bool {
	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.mu.Unlock()

	sess, err := n.factory(role, SessionEvents{
		OnCandidate: func(c signaling.Candidate) { n.post(gen, LocalCandidate{Candidate: c}) },
		OnConnected: func() { n.post(gen, TransportConnected{}) },
		OnFailed:    func(reason string) { n.post(gen, TransportFailed{Reason: reason}) },
		OnSyncOpen:  func() { n.post(gen, SyncChannelOpen{}) },
	})
	if err != nil {
		util.LogError("session: failed to create peer session: %v", err)
		n.status.State = StateFailed
		n.status.HasSession = false
		return false
	}

	n.mu.Lock()
	if n.gen != gen {
		// Stop raced with creation.
		n.mu.Unlock()
		sess.Close()
		return false
	}
	n.session = sess
	n.mu.Unlock()
	n.remoteSet = false
	return true
}

// sendDescription creates the local offer or answer and sends it, unless the
// session was superseded while the description was being created.
func (n *Negotiator) sendDescription(kind SDPKind) bool {
	sess, gen := n.current()
	if sess == nil {
		return false
	}

	var (
		sdp string
		err error
	)
	if kind == SDPOffer {
		sdp, err = sess.CreateOffer()
	} else {
		sdp, err = sess.CreateAnswer()
	}

	if gen != n.currentGen() {
		util.LogDebug("session: discarding %s for superseded session", kind)
		return false
	}
	if err != nil {
		util.LogWarning("session: failed to create %s: %v", kind, err)
		return false
	}

	if kind == SDPOffer {
		n.sender.Send(signaling.Offer{SDP: sdp})
	} else {
		n.sender.Send(signaling.Answer{SDP: sdp})
	}
	return true
}

// release closes the current session (if any) and invalidates its
// generation so late callbacks and in-flight results are discarded.
func (n *Negotiator) release() {
	n.mu.Lock()
	sess := n.session
	n.session = nil
	n.gen++
	n.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			util.LogWarning("session: close: %v", err)
		}
	}
}

func (n *Negotiator) current() (Session, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session, n.gen
}

func (n *Negotiator) currentGen() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}
