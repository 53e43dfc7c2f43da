// Package app contains the top-level orchestration for the relay, streamer
// and viewer roles.
package app

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/1ureka/peersync/internal/config"
	"github.com/1ureka/peersync/internal/player"
	"github.com/1ureka/peersync/internal/playsync"
	"github.com/1ureka/peersync/internal/session"
	"github.com/1ureka/peersync/internal/signaling"
	"github.com/1ureka/peersync/internal/util"
)

// stopGrace bounds how long shutdown waits for StopStream to go out.
const stopGrace = time.Second

// Peer wires one streamer or viewer together:
//
//	relay ⇄ Link ⇄ Negotiator ⇄ peer session ⇄ sync channel ⇄ Coordinator ⇄ Player
//
// The link and negotiator outlive individual sessions; a new Coordinator is
// attached every time a session's sync channel opens.
type Peer struct {
	cfg    *config.Config
	link   *signaling.Link
	neg    *session.Negotiator
	player *player.Clock

	closed chan struct{} // signalled on every transition to Closed

	mu        sync.Mutex
	coord     *playsync.Coordinator
	file      string
	waitSince time.Time // entry into Negotiating or Failed, or the last re-offer
}

// NewPeer builds a peer for cfg. factory creates the underlying peer
// sessions (transport.Factory in production).
func NewPeer(cfg *config.Config, factory session.SessionFactory) *Peer {
	p := &Peer{
		cfg:    cfg,
		link:   signaling.NewLink(cfg.RelayURL, cfg.PeerID, cfg.Backoff()),
		player: player.NewClock(0),
		closed: make(chan struct{}, 1),
		file:   cfg.File,
	}
	p.neg = session.NewNegotiator(cfg.PeerID, p.link, factory)

	p.link.OnMessage(p.neg.HandleMessage)
	p.link.OnStatus(p.onLinkStatus)
	p.neg.OnStateChange(p.onState)
	p.neg.OnStreamRequested(p.onStreamRequested)
	p.neg.OnSyncChannel(p.onSyncChannel)
	p.player.OnChange(p.onPlayerChange)

	return p
}

// Run connects to the relay and processes signaling until ctx is
// cancelled. On the way out it stops the session so the peer is told.
func (p *Peer) Run(ctx context.Context) {
	// The link and negotiator get their own context so StopStream can still
	// be delivered after ctx is cancelled.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	negDone := make(chan struct{})
	go func() {
		defer close(negDone)
		p.neg.Run(runCtx)
	}()

	p.link.Connect(runCtx)
	defer p.link.Disconnect()

	go p.watchNegotiation(ctx)

	util.LogInfo("peer %s (%s) connecting to %s", p.cfg.PeerID, p.cfg.Role, p.cfg.RelayURL)

	<-ctx.Done()
	p.shutdown()
	cancel()
	<-negDone
}

// State returns the negotiator's connection state.
func (p *Peer) State() session.State {
	return p.neg.State()
}

// LinkConnected reports whether the relay link is up.
func (p *Peer) LinkConnected() bool {
	return p.link.Connected()
}

// Player returns the local playback clock.
func (p *Peer) Player() *player.Clock {
	return p.player
}

// File returns the file being streamed or requested.
func (p *Peer) File() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file
}

// Start asks the peer to stream path, or the configured file if path is
// empty.
func (p *Peer) Start(path string) error {
	if path == "" {
		path = p.File()
	}
	if path == "" {
		return errNoFile
	}

	p.mu.Lock()
	p.file = path
	p.mu.Unlock()

	// The start request is ignored mid-negotiation, so an offer that went
	// unanswered is replaced instead.
	if p.neg.State() == session.StateNegotiating {
		p.restart(path)
		return nil
	}
	p.neg.StartStream(path)
	return nil
}

// Stop ends the current session.
func (p *Peer) Stop() {
	p.neg.Stop()
}

func (p *Peer) restart(path string) {
	p.mu.Lock()
	p.waitSince = time.Now()
	p.mu.Unlock()

	p.neg.Restart(path)
}

// watchNegotiation re-offers while a local offer stays unanswered, which
// happens when the peer joins the relay after the offer was broadcast. A
// viewer also starts over after a failed session.
func (p *Peer) watchNegotiation(ctx context.Context) {
	tick := time.NewTicker(max(p.cfg.NegotiateTimeout/2, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			p.checkNegotiation(now)
		}
	}
}

func (p *Peer) checkNegotiation(now time.Time) {
	p.mu.Lock()
	since := p.waitSince
	p.mu.Unlock()

	if since.IsZero() || now.Sub(since) < p.cfg.NegotiateTimeout {
		return
	}

	switch p.neg.State() {
	case session.StateNegotiating:
		if p.neg.Role() != session.RoleInitiator {
			return
		}
		util.LogWarning("no answer after %s, offering again", p.cfg.NegotiateTimeout)
		p.restart(p.File())

	case session.StateFailed:
		if p.cfg.Role != config.RoleViewer || p.File() == "" {
			return
		}
		util.LogWarning("retrying failed session")
		p.mu.Lock()
		p.waitSince = now
		p.mu.Unlock()
		p.neg.StartStream(p.File())
	}
}

func (p *Peer) shutdown() {
	if p.neg.State() == session.StateClosed {
		return
	}

	select {
	case <-p.closed:
	default:
	}

	p.neg.Stop()

	select {
	case <-p.closed:
	case <-time.After(stopGrace):
		util.LogWarning("timed out waiting for session to close")
	}
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

func (p *Peer) onLinkStatus(s signaling.LinkStatus) {
	if s != signaling.StatusConnected {
		util.LogWarning("relay link %s", s)
		return
	}

	util.LogInfo("relay link %s", s)

	// Anything sent while the link was down is gone; an offer still waiting
	// for its answer has to go out again.
	if p.neg.State() == session.StateNegotiating && p.neg.Role() == session.RoleInitiator {
		util.LogInfo("relay reconnected mid-negotiation, offering again")
		p.restart(p.File())
		return
	}

	// A viewer with a file asks for it as soon as it can reach the relay.
	// Later reconnects leave the session alone.
	if p.cfg.Role == config.RoleViewer && p.File() != "" && p.neg.State() == session.StateIdle {
		p.neg.StartStream(p.File())
	}
}

func (p *Peer) onState(s session.State) {
	p.mu.Lock()
	if s == session.StateNegotiating || s == session.StateFailed {
		p.waitSince = time.Now()
	} else {
		p.waitSince = time.Time{}
	}
	p.mu.Unlock()

	switch s {
	case session.StateConnected:
		util.LogSuccess("P2P session established")
	case session.StateFailed:
		util.LogError("P2P session failed; waiting for a new offer or `start`")
		p.detachSync()
	case session.StateClosed:
		p.detachSync()

		select {
		case p.closed <- struct{}{}:
		default:
		}
	}
}

func (p *Peer) onStreamRequested(path string) {
	p.mu.Lock()
	p.file = path
	p.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		util.LogWarning("peer requested %s: %v", path, err)
		return
	}
	util.LogInfo("peer requested %s", path)
}

func (p *Peer) onSyncChannel(ch session.SyncChannel) {
	coord := playsync.New(ch, p.player, p.cfg.SyncPolicy())
	coord.Start()

	p.mu.Lock()
	p.coord = coord
	p.mu.Unlock()

	util.LogInfo("playback sync active")
}

func (p *Peer) detachSync() {
	p.mu.Lock()
	p.coord = nil
	p.mu.Unlock()
}

func (p *Peer) onPlayerChange() {
	p.mu.Lock()
	coord := p.coord
	p.mu.Unlock()

	if coord != nil {
		coord.NotifyLocal()
	}
}
