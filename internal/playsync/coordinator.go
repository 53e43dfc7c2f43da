package playsync

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/1ureka/peersync/internal/util"
)

// Channel is the sync channel the coordinator talks over.
type Channel interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
}

// Player is the local playback clock being kept in sync.
type Player interface {
	Position() float64
	Playing() bool
	Seek(position float64)
	Play()
	Pause()
}

// Coordinator broadcasts local playback transitions and applies the peer's.
//
// Local transitions reach it through NotifyLocal; the player is expected to
// call it on every play, pause and seek. Transitions that happen within
// Policy.SuppressWindow of applying a remote update are considered echoes of
// that update and are not broadcast.
type Coordinator struct {
	ch     Channel
	player Player
	policy Policy
	now    func() time.Time

	mu            sync.Mutex
	suppressUntil time.Time
}

// New creates a coordinator. Call Start to begin receiving.
func New(ch Channel, player Player, policy Policy) *Coordinator {
	return &Coordinator{
		ch:     ch,
		player: player,
		policy: policy,
		now:    time.Now,
	}
}

// Start registers the coordinator as the channel's message handler.
func (c *Coordinator) Start() {
	c.ch.OnMessage(c.handle)
}

// NotifyLocal reports a local playback transition. Outside the suppression
// window the current state is sent to the peer immediately.
func (c *Coordinator) NotifyLocal() {
	if c.suppressed() {
		util.Stats.AddSyncSuppressed()
		util.LogDebug("sync: suppressed echo of remote update")
		return
	}
	if err := c.Broadcast(); err != nil {
		util.LogWarning("sync: broadcast failed: %v", err)
	}
}

// Broadcast sends the current local state regardless of suppression.
func (c *Coordinator) Broadcast() error {
	data, err := Encode(c.LocalState())
	if err != nil {
		return err
	}
	if err := c.ch.Send(data); err != nil {
		return err
	}
	util.Stats.AddSyncSent()
	return nil
}

// LocalState samples the local player.
func (c *Coordinator) LocalState() PlaybackState {
	return PlaybackState{
		Position:  c.player.Position(),
		Playing:   c.player.Playing(),
		Timestamp: c.now().UnixMilli(),
	}
}

// Apply brings the local player in line with a remote state. The position
// is corrected only when drift exceeds the threshold; play/pause is
// reconciled independently of the position.
func (c *Coordinator) Apply(remote PlaybackState) {
	c.mu.Lock()
	c.suppressUntil = c.now().Add(c.policy.SuppressWindow)
	c.mu.Unlock()

	local := c.player.Position()
	if drift := math.Abs(local - remote.Position); drift > c.policy.DriftThreshold {
		util.LogDebug("sync: drift %.2fs, seeking %.2f -> %.2f", drift, local, remote.Position)
		c.player.Seek(remote.Position)
	}

	playing := c.player.Playing()
	switch {
	case remote.Playing && !playing:
		c.player.Play()
	case !remote.Playing && playing:
		c.player.Pause()
	}

	util.Stats.AddSyncApplied()
}

func (c *Coordinator) handle(data []byte) {
	state, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			util.LogDebug("sync: ignoring message: %v", err)
		} else {
			util.LogWarning("sync: dropping message: %v", err)
		}
		return
	}
	c.Apply(state)
}

func (c *Coordinator) suppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.suppressUntil)
}
