package session

import (
	"github.com/1ureka/peersync/internal/signaling"
)

// State is the connection state of a negotiator.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role is which side of the offer/answer exchange this peer plays.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "none"
}

// Status is everything Transition needs to know about a negotiator.
type Status struct {
	State      State
	Role       Role
	HasSession bool
	LocalID    string
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is an input to Transition.
type Event interface{ event() }

type (
	// StartRequested is the local user asking to stream FilePath from the peer.
	StartRequested struct{ FilePath string }
	// StopRequested is the local user tearing the session down.
	StopRequested struct{}
	// RestartRequested abandons an unanswered local offer and starts a fresh
	// cycle for FilePath.
	RestartRequested struct{ FilePath string }

	OfferReceived       struct{ From, SDP string }
	AnswerReceived      struct{ SDP string }
	CandidateReceived   struct{ Candidate signaling.Candidate }
	StartStreamReceived struct{ FilePath string }
	StopReceived        struct{}

	// LocalCandidate is a candidate gathered by the local session.
	LocalCandidate     struct{ Candidate signaling.Candidate }
	TransportConnected struct{}
	TransportFailed    struct{ Reason string }
	SyncChannelOpen    struct{}

	// OfferRejected is raised by the runtime when a fresh responder session
	// refuses the offer it was opened for. Prev is the state before the offer.
	OfferRejected struct{ Prev State }
)

func (StartRequested) event()      {}
func (StopRequested) event()       {}
func (RestartRequested) event()    {}
func (OfferReceived) event()       {}
func (AnswerReceived) event()      {}
func (CandidateReceived) event()   {}
func (StartStreamReceived) event() {}
func (StopReceived) event()        {}
func (LocalCandidate) event()      {}
func (TransportConnected) event()  {}
func (TransportFailed) event()     {}
func (SyncChannelOpen) event()     {}
func (OfferRejected) event()       {}

// ---------------------------------------------------------------------------
// Effects
// ---------------------------------------------------------------------------

// Effect is an action Transition asks the runtime to perform, in order.
type Effect interface{ effect() }

// SDPKind distinguishes offers from answers when applying a remote description.
type SDPKind int

const (
	SDPOffer SDPKind = iota
	SDPAnswer
)

func (k SDPKind) String() string {
	if k == SDPAnswer {
		return "answer"
	}
	return "offer"
}

type (
	// OpenSession creates a new peer session (and its sync channel).
	OpenSession struct{ Role Role }
	// CloseSession releases the current peer session, if any.
	CloseSession struct{}
	ResetBuffer  struct{}
	// Send writes a message to the relay.
	Send struct{ Message signaling.Message }
	// SendOffer creates a local offer, applies it and sends it.
	SendOffer struct{}
	// SendAnswer creates a local answer, applies it and sends it.
	SendAnswer struct{}
	// ApplyRemote sets the remote description on the current session.
	ApplyRemote struct {
		Kind SDPKind
		SDP  string
	}
	// FlushCandidates marks the candidate buffer ready against the session.
	FlushCandidates struct{}
	// BufferCandidate hands a remote candidate to the candidate buffer.
	BufferCandidate       struct{ Candidate signaling.Candidate }
	NotifyStreamRequested struct{ FilePath string }
	// StartSync hands the open sync channel to the playback coordinator.
	StartSync struct{}
)

func (OpenSession) effect()           {}
func (CloseSession) effect()          {}
func (ResetBuffer) effect()           {}
func (Send) effect()                  {}
func (SendOffer) effect()             {}
func (SendAnswer) effect()            {}
func (ApplyRemote) effect()           {}
func (FlushCandidates) effect()       {}
func (BufferCandidate) effect()       {}
func (NotifyStreamRequested) effect() {}
func (StartSync) effect()             {}

// ---------------------------------------------------------------------------
// Transition
// ---------------------------------------------------------------------------

// Transition is the connection state machine. It performs no I/O: it returns
// the next status and the effects the runtime must execute, in order.
// Events that make no sense in the current state return st unchanged and no
// effects.
func Transition(st Status, ev Event) (Status, []Effect) {
	switch ev := ev.(type) {
	case StartRequested:
		return onStart(st, ev)
	case StopRequested:
		return onStop(st, true)
	case RestartRequested:
		return onRestart(st, ev)
	case StopReceived:
		return onStop(st, false)
	case OfferReceived:
		return onOffer(st, ev)

	case AnswerReceived:
		if st.State != StateNegotiating || st.Role != RoleInitiator {
			return st, nil
		}
		return st, []Effect{ApplyRemote{Kind: SDPAnswer, SDP: ev.SDP}, FlushCandidates{}}

	case CandidateReceived:
		if ev.Candidate.EndOfCandidates() {
			return st, nil
		}
		return st, []Effect{BufferCandidate(ev)}

	case LocalCandidate:
		if !st.HasSession || (st.State != StateNegotiating && st.State != StateConnected) {
			return st, nil
		}
		return st, []Effect{Send{Message: ev.Candidate}}

	case StartStreamReceived:
		return st, []Effect{NotifyStreamRequested(ev)}

	case TransportConnected:
		if st.State == StateNegotiating {
			st.State = StateConnected
		}
		return st, nil

	case TransportFailed:
		if st.State == StateNegotiating || st.State == StateConnected {
			st.State = StateFailed
		}
		return st, nil

	case SyncChannelOpen:
		if !st.HasSession {
			return st, nil
		}
		return st, []Effect{StartSync{}}

	case OfferRejected:
		if st.State != StateNegotiating || st.Role != RoleResponder || !st.HasSession {
			return st, nil
		}
		// A bad description is not a transport failure: drop the session and
		// go back to where the offer found us. A yielded local offer is gone,
		// so that case lands in Idle.
		back := ev.Prev
		if back != StateIdle && back != StateClosed && back != StateFailed {
			back = StateIdle
		}
		return Status{State: back, LocalID: st.LocalID}, []Effect{CloseSession{}, ResetBuffer{}}
	}

	return st, nil
}

func onStart(st Status, ev StartRequested) (Status, []Effect) {
	if st.State == StateNegotiating || st.State == StateConnected {
		return st, nil
	}

	var fx []Effect
	if st.HasSession {
		fx = append(fx, CloseSession{})
	}
	fx = append(fx,
		ResetBuffer{},
		OpenSession{Role: RoleInitiator},
		Send{Message: signaling.StartStream{FilePath: ev.FilePath}},
		SendOffer{},
	)

	return Status{State: StateNegotiating, Role: RoleInitiator, HasSession: true, LocalID: st.LocalID}, fx
}

// onRestart re-offers while an offer is still unanswered. The peer is told
// to stop first so that it drops any half-built session from the old offer.
func onRestart(st Status, ev RestartRequested) (Status, []Effect) {
	if st.State != StateNegotiating || st.Role != RoleInitiator {
		return st, nil
	}
	return st, []Effect{
		Send{Message: signaling.StopStream{}},
		CloseSession{},
		ResetBuffer{},
		OpenSession{Role: RoleInitiator},
		Send{Message: signaling.StartStream{FilePath: ev.FilePath}},
		SendOffer{},
	}
}

func onStop(st Status, local bool) (Status, []Effect) {
	if st.State == StateClosed {
		return st, nil
	}

	var fx []Effect
	if local && st.HasSession {
		fx = append(fx, Send{Message: signaling.StopStream{}})
	}
	if st.HasSession {
		fx = append(fx, CloseSession{})
	}
	fx = append(fx, ResetBuffer{})

	return Status{State: StateClosed, LocalID: st.LocalID}, fx
}

func onOffer(st Status, ev OfferReceived) (Status, []Effect) {
	answer := []Effect{
		ApplyRemote{Kind: SDPOffer, SDP: ev.SDP},
		FlushCandidates{},
		SendAnswer{},
	}
	responder := Status{State: StateNegotiating, Role: RoleResponder, HasSession: true, LocalID: st.LocalID}

	switch st.State {
	case StateIdle, StateClosed:
		var fx []Effect
		if !st.HasSession {
			fx = append(fx, OpenSession{Role: RoleResponder})
		}
		return responder, append(fx, answer...)

	case StateFailed:
		fx := []Effect{CloseSession{}, ResetBuffer{}, OpenSession{Role: RoleResponder}}
		return responder, append(fx, answer...)

	case StateNegotiating:
		if st.Role == RoleResponder {
			// Newest remote description wins; the session is reused.
			return st, answer
		}
		if WinsGlare(st.LocalID, ev.From) {
			return st, nil
		}
		// Yield: candidates buffered so far belong to the remote offer, so
		// the buffer is kept.
		fx := []Effect{CloseSession{}, OpenSession{Role: RoleResponder}}
		return responder, append(fx, answer...)

	case StateConnected:
		// Renegotiation from the peer on a live session.
		return st, []Effect{ApplyRemote{Kind: SDPOffer, SDP: ev.SDP}, SendAnswer{}}
	}

	return st, nil
}

// WinsGlare reports whether the local offer takes precedence when both sides
// sent offers at once: the lexicographically greater peer ID wins. An offer
// from an anonymous peer never beats a local one.
func WinsGlare(localID, remoteID string) bool {
	return remoteID == "" || localID >= remoteID
}
