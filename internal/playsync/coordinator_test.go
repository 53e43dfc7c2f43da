package playsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	handler func([]byte)
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(data)
}

func (c *fakeChannel) sentStates(t *testing.T) []PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PlaybackState
	for _, data := range c.sent {
		s, err := Decode(data)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

// fakePlayer reports every transition to onChange, like a real player's
// event listeners would.
type fakePlayer struct {
	position float64
	playing  bool
	seeks    []float64
	onChange func()
}

func (p *fakePlayer) Position() float64 { return p.position }
func (p *fakePlayer) Playing() bool     { return p.playing }

func (p *fakePlayer) Seek(pos float64) {
	p.position = pos
	p.seeks = append(p.seeks, pos)
	p.changed()
}

func (p *fakePlayer) Play() {
	p.playing = true
	p.changed()
}

func (p *fakePlayer) Pause() {
	p.playing = false
	p.changed()
}

func (p *fakePlayer) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}

func newTestCoordinator() (*Coordinator, *fakeChannel, *fakePlayer, *fakeClock) {
	ch := &fakeChannel{}
	p := &fakePlayer{}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New(ch, p, DefaultPolicy())
	c.now = clk.Now
	p.onChange = c.NotifyLocal
	c.Start()
	return c, ch, p, clk
}

func TestSmallDriftIgnored(t *testing.T) {
	c, _, p, _ := newTestCoordinator()
	p.position = 10.0
	p.playing = true

	c.Apply(PlaybackState{Position: 10.3, Playing: true})

	assert.Empty(t, p.seeks)
	assert.Equal(t, 10.0, p.position)
}

func TestLargeDriftSeeks(t *testing.T) {
	c, _, p, _ := newTestCoordinator()
	p.position = 10.0
	p.playing = true

	c.Apply(PlaybackState{Position: 11.2, Playing: true})

	assert.Equal(t, []float64{11.2}, p.seeks)
}

func TestDriftAtThresholdIgnored(t *testing.T) {
	c, _, p, _ := newTestCoordinator()
	p.position = 4.0

	c.Apply(PlaybackState{Position: 4.5})

	assert.Empty(t, p.seeks)
}

func TestPlayPauseReconciledIndependently(t *testing.T) {
	c, _, p, _ := newTestCoordinator()
	p.position = 5.0

	// Position within threshold, play state differs.
	c.Apply(PlaybackState{Position: 5.1, Playing: true})
	assert.True(t, p.playing)
	assert.Empty(t, p.seeks)

	// Both differ.
	c.Apply(PlaybackState{Position: 20, Playing: false})
	assert.False(t, p.playing)
	assert.Equal(t, []float64{20}, p.seeks)
}

func TestRemoteUpdateNotEchoed(t *testing.T) {
	_, ch, p, _ := newTestCoordinator()
	p.position = 1.0

	data, err := Encode(PlaybackState{Position: 30, Playing: true})
	require.NoError(t, err)
	ch.deliver(data)

	assert.Equal(t, 30.0, p.position)
	assert.True(t, p.playing)
	assert.Empty(t, ch.sentStates(t))
}

func TestLocalChangeInsideWindowSuppressed(t *testing.T) {
	c, ch, p, clk := newTestCoordinator()

	c.Apply(PlaybackState{Position: 0, Playing: true})
	clk.Advance(50 * time.Millisecond)
	p.Pause()

	assert.Empty(t, ch.sentStates(t))
}

func TestLocalChangeAfterWindowBroadcast(t *testing.T) {
	c, ch, p, clk := newTestCoordinator()

	c.Apply(PlaybackState{Position: 0, Playing: true})
	clk.Advance(150 * time.Millisecond)
	p.Seek(42)

	sent := ch.sentStates(t)
	require.Len(t, sent, 1)
	assert.Equal(t, 42.0, sent[0].Position)
	assert.True(t, sent[0].Playing)
	assert.Equal(t, clk.Now().UnixMilli(), sent[0].Timestamp)
}

func TestLocalTransitionsBroadcastImmediately(t *testing.T) {
	_, ch, p, _ := newTestCoordinator()

	p.Play()
	p.Seek(7)
	p.Pause()

	sent := ch.sentStates(t)
	require.Len(t, sent, 3)
	assert.True(t, sent[0].Playing)
	assert.Equal(t, 7.0, sent[1].Position)
	assert.False(t, sent[2].Playing)
}

func TestUnknownAndMalformedIgnored(t *testing.T) {
	_, ch, p, _ := newTestCoordinator()
	p.position = 3

	ch.deliver([]byte(`{"type":"chat","text":"hi"}`))
	ch.deliver([]byte(`not json`))
	ch.deliver([]byte(`{"type":"sync","currentTime":-4}`))

	assert.Equal(t, 3.0, p.position)
	assert.Empty(t, p.seeks)
}

func TestTwoCoordinatorsConverge(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}

	// Wire two coordinators back to back.
	chA, chB := &fakeChannel{}, &fakeChannel{}
	pA, pB := &fakePlayer{}, &fakePlayer{position: 8}
	a := New(&crossChannel{out: chB, in: chA}, pA, DefaultPolicy())
	b := New(&crossChannel{out: chA, in: chB}, pB, DefaultPolicy())
	a.now, b.now = clk.Now, clk.Now
	pA.onChange, pB.onChange = a.NotifyLocal, b.NotifyLocal
	a.Start()
	b.Start()

	pA.Seek(60)
	pA.Play()

	assert.Equal(t, 60.0, pB.position)
	assert.True(t, pB.playing)

	// B's changes were echoes and must not have bounced back to A.
	assert.Equal(t, []float64{60}, pA.seeks)
}

// crossChannel sends into the peer's inbound fakeChannel.
type crossChannel struct {
	out *fakeChannel
	in  *fakeChannel
}

func (c *crossChannel) Send(data []byte) error {
	c.out.deliver(data)
	return nil
}

func (c *crossChannel) OnMessage(fn func([]byte)) { c.in.OnMessage(fn) }
