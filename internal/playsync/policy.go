package playsync

import "time"

// Policy tunes how remote playback state is applied.
type Policy struct {
	// DriftThreshold is the position difference, in seconds, above which
	// the local player seeks to the remote position. Smaller differences
	// are left alone.
	DriftThreshold float64

	// SuppressWindow is how long after applying a remote update local
	// transitions are treated as echoes and not broadcast.
	SuppressWindow time.Duration
}

// DefaultPolicy returns the default sync policy.
func DefaultPolicy() Policy {
	return Policy{
		DriftThreshold: 0.5,
		SuppressWindow: 100 * time.Millisecond,
	}
}
