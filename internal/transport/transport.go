// Package transport provides the pion-backed peer session: one
// PeerConnection plus the playback-sync DataChannel.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peersync/internal/session"
	"github.com/1ureka/peersync/internal/signaling"
	"github.com/1ureka/peersync/internal/util"
)

// ErrChannelNotOpen is returned when sending on a sync channel that has not
// opened yet or has already closed.
var ErrChannelNotOpen = errors.New("sync channel not open")

// Config configures new PeerConnections.
type Config struct {
	ICEServers []string
}

// Transport wraps a single PeerConnection + sync DataChannel pair and
// implements session.Session.
//
// Its lifecycle is owned by the negotiator: it reports transport events
// through session.SessionEvents and is released with Close.
type Transport struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	sync *syncChannel

	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

var _ session.Session = (*Transport)(nil)

// Factory returns a session.SessionFactory producing Transports.
func Factory(cfg Config) session.SessionFactory {
	return func(role session.Role, events session.SessionEvents) (session.Session, error) {
		t, err := New(cfg, role, events)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// New creates a Transport for the given role and wires its callbacks to
// events. Nil callbacks in events are ignored.
func New(cfg Config, role session.Role, events session.SessionEvents) (*Transport, error) {
	pc, err := newPeerConnection(cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dc, err := newSyncChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create sync channel: %w", err)
	}

	if role == session.RoleInitiator {
		if err := addVideoReceiver(pc); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	t := &Transport{
		pc:      pc,
		dc:      dc,
		sync:    &syncChannel{dc: dc},
		pcState: webrtc.PeerConnectionStateNew,
	}

	// Trickle ICE. A nil candidate signals the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnCandidate == nil {
			return
		}
		events.OnCandidate(fromICECandidateInit(c.ToJSON()))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if events.OnConnected != nil {
				events.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			if events.OnFailed != nil {
				events.OnFailed(state.String())
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("receiving remote %s track (%s)", track.Kind(), track.Codec().MimeType)
	})

	dc.OnOpen(func() {
		util.LogDebug("sync channel open")
		if events.OnSyncOpen != nil {
			events.OnSyncOpen()
		}
	})

	dc.OnClose(func() {
		util.LogDebug("sync channel closed")
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// session.Session
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and applies it locally.
func (t *Transport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateOffer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer generates an SDP answer and applies it locally.
func (t *Transport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(kind session.SDPKind, sdp string) error {
	typ := webrtc.SDPTypeOffer
	if kind == session.SDPAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

// AddCandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddCandidate(c signaling.Candidate) error {
	return t.pc.AddICECandidate(toICECandidateInit(c))
}

// SyncChannel returns the playback-sync channel.
func (t *Transport) SyncChannel() session.SyncChannel {
	return t.sync
}

// Close shuts down the DataChannel and PeerConnection. Only the first call
// does anything; later calls return the same result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = errors.Join(t.dc.Close(), t.pc.Close())
	})
	return t.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Sync channel
// ---------------------------------------------------------------------------

// syncChannel adapts a pion DataChannel to session.SyncChannel. Sync
// messages are JSON, so they travel as text frames.
type syncChannel struct {
	dc *webrtc.DataChannel
}

func (c *syncChannel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return c.dc.SendText(string(data))
}

func (c *syncChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// ---------------------------------------------------------------------------
// Candidate conversion
// ---------------------------------------------------------------------------

func fromICECandidateInit(init webrtc.ICECandidateInit) signaling.Candidate {
	c := signaling.Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	return c
}

func toICECandidateInit(c signaling.Candidate) webrtc.ICECandidateInit {
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}
