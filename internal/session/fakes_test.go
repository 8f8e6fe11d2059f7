package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/screenshare/internal/control"
)

type fakeNetwork struct {
	identities []*fakeIdentity
	dialToken  string
}

func (n *fakeNetwork) Register() Identity {
	ident := &fakeIdentity{net: n}
	n.identities = append(n.identities, ident)
	return ident
}

func (n *fakeNetwork) last() *fakeIdentity {
	return n.identities[len(n.identities)-1]
}

type fakeIdentity struct {
	net       *fakeNetwork
	dials     []*fakeChannel
	calls     []*fakeCall
	destroyed bool
	dialErr   error
}

func (i *fakeIdentity) Events() <-chan IdentityEvent { return nil }

func (i *fakeIdentity) Dial(peerID string, opts DialOptions) (Channel, error) {
	if i.dialErr != nil {
		return nil, i.dialErr
	}
	ch := &fakeChannel{peer: peerID, token: i.net.dialToken}
	i.dials = append(i.dials, ch)
	return ch, nil
}

func (i *fakeIdentity) Call(peerID string, stream MediaStream, opts CallOptions) (Call, error) {
	c := &fakeCall{peer: peerID, local: stream}
	i.calls = append(i.calls, c)
	return c, nil
}

func (i *fakeIdentity) Destroy() { i.destroyed = true }

func (i *fakeIdentity) lastDial() *fakeChannel {
	return i.dials[len(i.dials)-1]
}

type fakeChannel struct {
	peer   string
	token  string
	open   bool
	closed bool
	sent   [][]byte
}

func (c *fakeChannel) Peer() string                { return c.peer }
func (c *fakeChannel) Token() string               { return c.token }
func (c *fakeChannel) Open() bool                  { return c.open && !c.closed }
func (c *fakeChannel) Events() <-chan ChannelEvent { return nil }
func (c *fakeChannel) Close()                      { c.closed = true }

func (c *fakeChannel) Send(payload []byte) error {
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeChannel) messages(t *testing.T) []control.Message {
	var out []control.Message
	for _, raw := range c.sent {
		m, ok := control.Decode(raw)
		require.True(t, ok, "undecodable control message %s", raw)
		out = append(out, m)
	}
	return out
}

type fakeCall struct {
	peer         string
	local        MediaStream
	answered     bool
	answerErr    error
	answeredWith MediaStream
	closed       bool
}

func (c *fakeCall) Peer() string             { return c.peer }
func (c *fakeCall) Events() <-chan CallEvent { return nil }
func (c *fakeCall) Close()                   { c.closed = true }

func (c *fakeCall) Answer(stream MediaStream) error {
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answered = true
	c.answeredWith = stream
	return nil
}

type fakeStream struct {
	id      string
	audio   bool
	stopped bool
}

func (s *fakeStream) ID() string             { return s.id }
func (s *fakeStream) HasAudio() bool         { return s.audio }
func (s *fakeStream) Ended() <-chan struct{} { return nil }
func (s *fakeStream) Stop()                  { s.stopped = true }

type fakeCapture struct {
	stream   MediaStream
	err      error
	requests []Constraints
}

func (c *fakeCapture) Acquire(ctx context.Context, cons Constraints) (MediaStream, error) {
	c.requests = append(c.requests, cons)
	return c.stream, c.err
}

type fakeView struct {
	snap     Snapshot
	renders  int
	notices  []Notice
	minimize int
	restore  int
}

func (v *fakeView) Render(s Snapshot) {
	v.snap = s
	v.renders++
}

func (v *fakeView) Notify(n Notice)  { v.notices = append(v.notices, n) }
func (v *fakeView) RequestMinimize() { v.minimize++ }
func (v *fakeView) RequestRestore()  { v.restore++ }

func (v *fakeView) alerts() []string {
	var out []string
	for _, n := range v.notices {
		if n.Kind == NoticeAlert {
			out = append(out, n.Text)
		}
	}
	return out
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every due timer in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			t.fn()
		}
	}
}

// harness drives an orchestrator synchronously: every input is processed
// and the queue drained before the call returns.
type harness struct {
	t       *testing.T
	o       *Orchestrator
	net     *fakeNetwork
	view    *fakeView
	clock   *fakeClock
	capture *fakeCapture
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		net:     &fakeNetwork{},
		view:    &fakeView{},
		clock:   newFakeClock(),
		capture: &fakeCapture{stream: &fakeStream{id: "screen", audio: true}},
	}
	o, err := New(h.net, h.capture, h.view, Options{Clock: h.clock})
	require.NoError(t, err)
	o.async = func(f func()) { f() }
	o.startIdentity("Connecting to signaling service...")
	h.o = o
	return h
}

func (h *harness) drain() {
	for {
		select {
		case ev := <-h.o.queue:
			h.o.process(ev)
		default:
			return
		}
	}
}

func (h *harness) send(ev event) {
	h.o.process(ev)
	h.drain()
}

func (h *harness) identityEvent(ie IdentityEvent) {
	h.send(event{kind: evIdentity, gen: h.o.identity.gen, identity: ie})
}

func (h *harness) ready(id string) {
	h.identityEvent(IdentityEvent{Kind: IdentityOpened, ID: id})
}

func (h *harness) connect(peer string) {
	h.send(event{kind: evConnect, peer: peer})
}

func (h *harness) channelEvent(gen uint64, kind ChannelEventKind) {
	h.send(event{kind: evChannel, gen: gen, channel: ChannelEvent{Kind: kind}})
}

func (h *harness) channelData(gen uint64, m control.Message) {
	data, err := control.Encode(m, h.clock.Now())
	require.NoError(h.t, err)
	h.send(event{kind: evChannel, gen: gen, channel: ChannelEvent{Kind: ChannelData, Data: data}})
}

func (h *harness) incomingChannel(ch *fakeChannel) {
	h.identityEvent(IdentityEvent{Kind: IdentityIncomingChannel, Channel: ch})
}

func (h *harness) incomingCall(c *fakeCall) {
	h.identityEvent(IdentityEvent{Kind: IdentityIncomingCall, Call: c})
}

func (h *harness) callEvent(gen uint64, ce CallEvent) {
	h.send(event{kind: evCall, gen: gen, call: ce})
}

// openWith registers id, dials peer and opens the channel.
func (h *harness) openWith(id, peer string) *fakeChannel {
	h.ready(id)
	h.connect(peer)
	cur := h.o.channels.current
	require.NotNil(h.t, cur)
	h.channelEvent(cur.gen, ChannelOpened)
	require.True(h.t, h.o.channels.isOpen())
	return h.net.last().lastDial()
}

func (h *harness) startShare() {
	h.send(event{kind: evStartShare})
}

func (h *harness) currentGen() uint64 {
	require.NotNil(h.t, h.o.channels.current)
	return h.o.channels.current.gen
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}
