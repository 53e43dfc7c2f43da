// Package player provides a simulated local playback clock. It stands in for
// a real video element: position advances with wall time while playing, and
// every play, pause and seek is reported to change listeners.
package player

import (
	"sync"
	"time"
)

// Clock is a playback position that advances while playing. It is safe for
// concurrent use. Change listeners run synchronously on the calling
// goroutine after the state has been updated.
type Clock struct {
	now func() time.Time

	mu       sync.Mutex
	base     float64   // position at anchor
	anchor   time.Time // when base was recorded; meaningful only while playing
	playing  bool
	duration float64 // 0 means unbounded
	onChange []func()
}

// NewClock returns a paused clock at position 0. duration bounds the
// position in seconds; 0 means unbounded.
func NewClock(duration float64) *Clock {
	return &Clock{now: time.Now, duration: duration}
}

// OnChange registers a listener for play, pause and seek transitions.
func (c *Clock) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// Position returns the current playback position in seconds.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// Playing reports whether the clock is running.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Play starts the clock. Playing an already running clock is a no-op.
func (c *Clock) Play() {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	c.anchor = c.now()
	c.mu.Unlock()
	c.fire()
}

// Pause stops the clock. Pausing a stopped clock is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.base = c.positionLocked()
	c.playing = false
	c.mu.Unlock()
	c.fire()
}

// Seek moves the position, clamped to [0, duration]. A seek always counts
// as a transition, even to the current position.
func (c *Clock) Seek(position float64) {
	c.mu.Lock()
	c.base = c.clamp(position)
	c.anchor = c.now()
	c.mu.Unlock()
	c.fire()
}

func (c *Clock) positionLocked() float64 {
	if !c.playing {
		return c.base
	}
	return c.clamp(c.base + c.now().Sub(c.anchor).Seconds())
}

func (c *Clock) clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if c.duration > 0 && p > c.duration {
		return c.duration
	}
	return p
}

func (c *Clock) fire() {
	c.mu.Lock()
	listeners := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
