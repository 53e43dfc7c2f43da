package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/sync message counter.
var Stats = &stats{}

type stats struct {
	SignalSent     atomic.Int64 // signaling messages written to the relay
	SignalRecv     atomic.Int64 // signaling messages read from the relay
	SyncSent       atomic.Int64 // playback states broadcast over the sync channel
	SyncApplied    atomic.Int64 // remote playback states applied locally
	SyncSuppressed atomic.Int64 // local transitions not re-broadcast (remote echo)
	Reconnects     atomic.Int64 // relay reconnect attempts
}

func (s *stats) AddSignalSent()     { s.SignalSent.Add(1) }
func (s *stats) AddSignalRecv()     { s.SignalRecv.Add(1) }
func (s *stats) AddSyncSent()       { s.SyncSent.Add(1) }
func (s *stats) AddSyncApplied()    { s.SyncApplied.Add(1) }
func (s *stats) AddSyncSuppressed() { s.SyncSuppressed.Add(1) }
func (s *stats) AddReconnect()      { s.Reconnects.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	signalSent, signalRecv          int64
	syncSent, syncApplied, syncSupp int64
	reconnects                      int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		signalSent:  s.SignalSent.Load(),
		signalRecv:  s.SignalRecv.Load(),
		syncSent:    s.SyncSent.Load(),
		syncApplied: s.SyncApplied.Load(),
		syncSupp:    s.SyncSuppressed.Load(),
		reconnects:  s.Reconnects.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs message statistics
// every 10 seconds, but only for intervals in which something happened.
// It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				delta := cur.sub(prev)
				if delta != (snapshot{}) {
					pterm.DefaultLogger.Info(formatStats(delta))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		signalSent:  s.signalSent - o.signalSent,
		signalRecv:  s.signalRecv - o.signalRecv,
		syncSent:    s.syncSent - o.syncSent,
		syncApplied: s.syncApplied - o.syncApplied,
		syncSupp:    s.syncSupp - o.syncSupp,
		reconnects:  s.reconnects - o.reconnects,
	}
}

// formatStats returns a one-line summary of a stats delta for the logger.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Signal: %3d↑ %3d↓ | Sync: %3d↑ %3d applied %3d echo | Reconnects: %d",
		d.signalSent,
		d.signalRecv,
		d.syncSent,
		d.syncApplied,
		d.syncSupp,
		d.reconnects,
	)
}
