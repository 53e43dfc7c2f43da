package session

import (
	"github.com/1ureka/peersync/internal/signaling"
	"github.com/1ureka/peersync/internal/util"
)

// CandidateSink consumes remote ICE candidates. It is the peer session once
// its remote description has been set.
type CandidateSink interface {
	AddCandidate(signaling.Candidate) error
}

// PendingCandidate is a remote candidate held until the session can take it.
type PendingCandidate struct {
	Seq       uint64
	Candidate signaling.Candidate
}

// CandidateBuffer bridges the race between early-arriving candidates and the
// slower remote description. It is owned by the negotiator's event loop and
// needs no locking.
type CandidateBuffer struct {
	ready   bool
	nextSeq uint64
	pending []PendingCandidate
}

// NewCandidateBuffer creates a buffer in holding mode.
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Offer forwards c to sink when the buffer is ready, otherwise stores it.
// It reports whether c was forwarded.
func (b *CandidateBuffer) Offer(sink CandidateSink, c signaling.Candidate) bool {
	b.nextSeq++

	if !b.ready || sink == nil {
		b.pending = append(b.pending, PendingCandidate{Seq: b.nextSeq, Candidate: c})
		return false
	}

	add(sink, c)
	return true
}

// MarkReady flushes every stored candidate to sink in arrival order, then
// switches to pass-through. It returns the number of candidates flushed.
func (b *CandidateBuffer) MarkReady(sink CandidateSink) int {
	if sink == nil {
		return 0
	}

	pending := b.pending
	b.pending = nil
	b.ready = true

	for _, p := range pending {
		add(sink, p.Candidate)
	}
	return len(pending)
}

// Reset discards stored candidates and returns to holding mode.
func (b *CandidateBuffer) Reset() {
	b.pending = nil
	b.ready = false
}

// Ready reports whether the buffer is in pass-through mode.
func (b *CandidateBuffer) Ready() bool {
	return b.ready
}

// Len returns the number of stored candidates.
func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

// add hands one candidate to sink. A rejected candidate is logged and does
// not abort the session.
func add(sink CandidateSink, c signaling.Candidate) {
	if err := sink.AddCandidate(c); err != nil {
		util.LogWarning("session: remote candidate rejected: %v", err)
	}
}
