// Package playsync keeps two peers' playback clocks together over the
// session's sync channel. Local transitions are broadcast as they happen;
// remote state is applied with drift correction and echo suppression.
package playsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// TypeSync is the only message type carried on the sync channel.
const TypeSync = "sync"

var (
	// ErrUnknownType is returned by Decode for messages whose type tag is not
	// "sync". Callers log and ignore them.
	ErrUnknownType = errors.New("unknown sync message type")

	// ErrInvalidState is returned by Decode for sync messages with a missing,
	// negative or non-finite position.
	ErrInvalidState = errors.New("invalid playback state")
)

// PlaybackState is one side's playback position and play/pause state.
// Timestamp is the sender's wall clock in milliseconds.
type PlaybackState struct {
	Position  float64
	Playing   bool
	Timestamp int64
}

type wireSync struct {
	Type        string   `json:"type"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"`
}

// Encode serialises a PlaybackState as a sync message.
func Encode(s PlaybackState) ([]byte, error) {
	if !validPosition(s.Position) {
		return nil, fmt.Errorf("%w: position %v", ErrInvalidState, s.Position)
	}
	return json.Marshal(wireSync{
		Type:        TypeSync,
		CurrentTime: &s.Position,
		IsPlaying:   &s.Playing,
		Timestamp:   &s.Timestamp,
	})
}

// Decode parses a sync-channel message.
func Decode(data []byte) (PlaybackState, error) {
	var w wireSync
	if err := json.Unmarshal(data, &w); err != nil {
		return PlaybackState{}, fmt.Errorf("malformed sync message: %w", err)
	}
	if w.Type != TypeSync {
		return PlaybackState{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	if w.CurrentTime == nil || !validPosition(*w.CurrentTime) {
		return PlaybackState{}, ErrInvalidState
	}

	s := PlaybackState{Position: *w.CurrentTime}
	if w.IsPlaying != nil {
		s.Playing = *w.IsPlaying
	}
	if w.Timestamp != nil {
		s.Timestamp = *w.Timestamp
	}
	return s, nil
}

func validPosition(p float64) bool {
	return p >= 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
