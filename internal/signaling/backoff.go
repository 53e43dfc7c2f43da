package signaling

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is the reconnect policy for a Link: a fixed interval plus an
// optional random jitter, retried forever.
type Backoff struct {
	Interval time.Duration
	Jitter   time.Duration
}

// DefaultBackoff retries every 3 to 5 seconds.
func DefaultBackoff() Backoff {
	return Backoff{
		Interval: 3 * time.Second,
		Jitter:   2 * time.Second,
	}
}

// Delay returns the wait before the next attempt, in [Interval, Interval+Jitter].
func (b Backoff) Delay() time.Duration {
	if b.Jitter <= 0 {
		return b.Interval
	}
	return b.Interval + time.Duration(rand.Int63n(int64(b.Jitter)+1))
}

// Wait blocks for one Delay or until ctx is done, whichever comes first.
func (b Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Delay())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
