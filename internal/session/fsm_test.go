package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1ureka/peersync/internal/signaling"
)

func TestTransitionTable(t *testing.T) {
	idle := Status{State: StateIdle, LocalID: "b"}
	initiating := Status{State: StateNegotiating, Role: RoleInitiator, HasSession: true, LocalID: "b"}
	responding := Status{State: StateNegotiating, Role: RoleResponder, HasSession: true, LocalID: "b"}
	connected := Status{State: StateConnected, Role: RoleInitiator, HasSession: true, LocalID: "b"}
	failed := Status{State: StateFailed, Role: RoleInitiator, HasSession: true, LocalID: "b"}
	closed := Status{State: StateClosed, LocalID: "b"}

	answerFx := []Effect{ApplyRemote{Kind: SDPOffer, SDP: "O1"}, FlushCandidates{}, SendAnswer{}}

	testCases := []struct {
		name    string
		from    Status
		ev      Event
		want    Status
		effects []Effect
	}{
		{
			name: "idle start stream",
			from: idle,
			ev:   StartRequested{FilePath: "/v/a.mp4"},
			want: initiating,
			effects: []Effect{
				ResetBuffer{},
				OpenSession{Role: RoleInitiator},
				Send{Message: signaling.StartStream{FilePath: "/v/a.mp4"}},
				SendOffer{},
			},
		},
		{
			name:    "idle offer",
			from:    idle,
			ev:      OfferReceived{From: "a", SDP: "O1"},
			want:    responding,
			effects: append([]Effect{OpenSession{Role: RoleResponder}}, answerFx...),
		},
		{
			name:    "negotiating answer as initiator",
			from:    initiating,
			ev:      AnswerReceived{SDP: "A1"},
			want:    initiating,
			effects: []Effect{ApplyRemote{Kind: SDPAnswer, SDP: "A1"}, FlushCandidates{}},
		},
		{
			name: "answer as responder ignored",
			from: responding,
			ev:   AnswerReceived{SDP: "A1"},
			want: responding,
		},
		{
			name: "answer while idle ignored",
			from: idle,
			ev:   AnswerReceived{SDP: "A1"},
			want: idle,
		},
		{
			name:    "negotiating candidate",
			from:    initiating,
			ev:      CandidateReceived{Candidate: candidate(1)},
			want:    initiating,
			effects: []Effect{BufferCandidate{Candidate: candidate(1)}},
		},
		{
			name:    "idle candidate is buffered",
			from:    idle,
			ev:      CandidateReceived{Candidate: candidate(1)},
			want:    idle,
			effects: []Effect{BufferCandidate{Candidate: candidate(1)}},
		},
		{
			name: "end of candidates is a no-op",
			from: initiating,
			ev:   CandidateReceived{Candidate: signaling.Candidate{}},
			want: initiating,
		},
		{
			name: "transport connected",
			from: initiating,
			ev:   TransportConnected{},
			want: Status{State: StateConnected, Role: RoleInitiator, HasSession: true, LocalID: "b"},
		},
		{
			name: "transport failed while negotiating",
			from: responding,
			ev:   TransportFailed{Reason: "failed"},
			want: Status{State: StateFailed, Role: RoleResponder, HasSession: true, LocalID: "b"},
		},
		{
			name: "transport failed while connected",
			from: connected,
			ev:   TransportFailed{Reason: "disconnected"},
			want: failed,
		},
		{
			name: "failed is not retried automatically",
			from: failed,
			ev:   TransportConnected{},
			want: failed,
		},
		{
			name:    "local stop while connected",
			from:    connected,
			ev:      StopRequested{},
			want:    closed,
			effects: []Effect{Send{Message: signaling.StopStream{}}, CloseSession{}, ResetBuffer{}},
		},
		{
			name:    "remote stop while negotiating",
			from:    responding,
			ev:      StopReceived{},
			want:    closed,
			effects: []Effect{CloseSession{}, ResetBuffer{}},
		},
		{
			name:    "local stop while idle",
			from:    idle,
			ev:      StopRequested{},
			want:    closed,
			effects: []Effect{ResetBuffer{}},
		},
		{
			name: "stop when closed is a no-op",
			from: closed,
			ev:   StopRequested{},
			want: closed,
		},
		{
			name: "restart after failure",
			from: failed,
			ev:   StartRequested{FilePath: "/v/b.mp4"},
			want: initiating,
			effects: []Effect{
				CloseSession{},
				ResetBuffer{},
				OpenSession{Role: RoleInitiator},
				Send{Message: signaling.StartStream{FilePath: "/v/b.mp4"}},
				SendOffer{},
			},
		},
		{
			name: "restart after close",
			from: closed,
			ev:   StartRequested{FilePath: "/v/b.mp4"},
			want: initiating,
			effects: []Effect{
				ResetBuffer{},
				OpenSession{Role: RoleInitiator},
				Send{Message: signaling.StartStream{FilePath: "/v/b.mp4"}},
				SendOffer{},
			},
		},
		{
			name: "start while negotiating ignored",
			from: initiating,
			ev:   StartRequested{FilePath: "/v/b.mp4"},
			want: initiating,
		},
		{
			name:    "offer after close answers with a fresh session",
			from:    closed,
			ev:      OfferReceived{From: "a", SDP: "O1"},
			want:    responding,
			effects: append([]Effect{OpenSession{Role: RoleResponder}}, answerFx...),
		},
		{
			name:    "offer after failure replaces the session",
			from:    failed,
			ev:      OfferReceived{From: "a", SDP: "O1"},
			want:    responding,
			effects: append([]Effect{CloseSession{}, ResetBuffer{}, OpenSession{Role: RoleResponder}}, answerFx...),
		},
		{
			name:    "repeated offer reuses responder session",
			from:    responding,
			ev:      OfferReceived{From: "a", SDP: "O1"},
			want:    responding,
			effects: answerFx,
		},
		{
			name: "glare won by greater local id",
			from: initiating,
			ev:   OfferReceived{From: "a", SDP: "O1"},
			want: initiating,
		},
		{
			name:    "glare lost to greater remote id",
			from:    initiating,
			ev:      OfferReceived{From: "c", SDP: "O1"},
			want:    responding,
			effects: append([]Effect{CloseSession{}, OpenSession{Role: RoleResponder}}, answerFx...),
		},
		{
			name: "glare against anonymous peer keeps local offer",
			from: initiating,
			ev:   OfferReceived{SDP: "O1"},
			want: initiating,
		},
		{
			name:    "renegotiation offer while connected",
			from:    connected,
			ev:      OfferReceived{From: "a", SDP: "O1"},
			want:    connected,
			effects: []Effect{ApplyRemote{Kind: SDPOffer, SDP: "O1"}, SendAnswer{}},
		},
		{
			name:    "local candidate is trickled",
			from:    initiating,
			ev:      LocalCandidate{Candidate: candidate(7)},
			want:    initiating,
			effects: []Effect{Send{Message: candidate(7)}},
		},
		{
			name: "local candidate after close is dropped",
			from: closed,
			ev:   LocalCandidate{Candidate: candidate(7)},
			want: closed,
		},
		{
			name:    "remote start stream is reported",
			from:    idle,
			ev:      StartStreamReceived{FilePath: "/v/a.mp4"},
			want:    idle,
			effects: []Effect{NotifyStreamRequested{FilePath: "/v/a.mp4"}},
		},
		{
			name:    "sync channel open",
			from:    connected,
			ev:      SyncChannelOpen{},
			want:    connected,
			effects: []Effect{StartSync{}},
		},
		{
			name: "sync channel open without session",
			from: closed,
			ev:   SyncChannelOpen{},
			want: closed,
		},
		{
			name: "restart re-offers an unanswered offer",
			from: initiating,
			ev:   RestartRequested{FilePath: "/v/a.mp4"},
			want: initiating,
			effects: []Effect{
				Send{Message: signaling.StopStream{}},
				CloseSession{},
				ResetBuffer{},
				OpenSession{Role: RoleInitiator},
				Send{Message: signaling.StartStream{FilePath: "/v/a.mp4"}},
				SendOffer{},
			},
		},
		{
			name: "restart ignored for responder",
			from: responding,
			ev:   RestartRequested{FilePath: "/v/a.mp4"},
			want: responding,
		},
		{
			name: "restart ignored once connected",
			from: connected,
			ev:   RestartRequested{FilePath: "/v/a.mp4"},
			want: connected,
		},
		{
			name:    "rejected first offer returns to idle",
			from:    responding,
			ev:      OfferRejected{Prev: StateIdle},
			want:    idle,
			effects: []Effect{CloseSession{}, ResetBuffer{}},
		},
		{
			name:    "rejected first offer returns to closed",
			from:    responding,
			ev:      OfferRejected{Prev: StateClosed},
			want:    closed,
			effects: []Effect{CloseSession{}, ResetBuffer{}},
		},
		{
			name:    "rejected offer after glare yield lands in idle",
			from:    responding,
			ev:      OfferRejected{Prev: StateNegotiating},
			want:    idle,
			effects: []Effect{CloseSession{}, ResetBuffer{}},
		},
		{
			name: "rejected offer ignored for initiator",
			from: initiating,
			ev:   OfferRejected{Prev: StateIdle},
			want: initiating,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, effects := Transition(tc.from, tc.ev)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.effects, effects)
		})
	}
}

func TestWinsGlare(t *testing.T) {
	assert.True(t, WinsGlare("b", "a"))
	assert.False(t, WinsGlare("a", "b"))
	assert.True(t, WinsGlare("a", ""))
	assert.True(t, WinsGlare("a", "a"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "negotiating", StateNegotiating.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "closed", StateClosed.String())
}
