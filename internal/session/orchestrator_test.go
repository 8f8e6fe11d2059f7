package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/screenshare/internal/control"
)

func TestNewValidatesCollaborators(t *testing.T) {
	_, err := New(nil, &fakeCapture{}, &fakeView{}, Options{})
	assert.Error(t, err)
	_, err = New(&fakeNetwork{}, nil, &fakeView{}, Options{})
	assert.Error(t, err)
	_, err = New(&fakeNetwork{}, &fakeCapture{}, nil, Options{})
	assert.Error(t, err)

	o, err := New(&fakeNetwork{}, &fakeCapture{}, &fakeView{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDialTimeout, o.channels.timeout)
	assert.Equal(t, DefaultConstraints(), o.constraints)
}

func TestIdentityReadyEnablesConnect(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.view.snap.Controls.Connect)

	h.ready("abc")

	snap := h.view.snap
	assert.Equal(t, "abc", snap.PeerID)
	assert.True(t, snap.Ready)
	assert.True(t, snap.Controls.Connect)
	assert.True(t, snap.Controls.CopyID)
	assert.Equal(t, "Waiting for connection...", snap.Status)
	assert.Equal(t, LevelIdle, snap.Level)
}

func TestConnectPreconditions(t *testing.T) {
	h := newHarness(t)

	h.connect("xyz")
	require.Len(t, h.view.notices, 1)
	assert.Equal(t, "Peer is not ready yet.", h.view.notices[0].Text)

	h.ready("abc")
	h.connect("abc")
	assert.Equal(t, "Use a different peer ID.", h.view.notices[1].Text)
	assert.Empty(t, h.net.last().dials)

	h.connect("xyz")
	require.Len(t, h.net.last().dials, 1)
	assert.Equal(t, "dialing", h.view.snap.Channel)
	assert.False(t, h.view.snap.Controls.Connect)

	h.connect("xyz")
	assert.Len(t, h.net.last().dials, 1, "second dial to same peer is a no-op")
	assert.Equal(t, "Still dialing xyz...", h.view.snap.Status)

	h.channelEvent(h.currentGen(), ChannelOpened)
	h.connect("xyz")
	assert.Len(t, h.net.last().dials, 1)
	assert.Equal(t, "Already connected to this peer.", h.view.snap.Status)
}

func TestConnectDialFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.net.last().dialErr = fmt.Errorf("socket down")

	h.connect("xyz")

	assert.Nil(t, h.o.channels.current)
	assert.Equal(t, KindChannelTransportError, h.view.snap.Fault)
	assert.Equal(t, "Failed to open connection: socket down", h.view.snap.Status)
}

func TestDialTimeoutClearsSlot(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("xyz")
	dial := h.net.last().lastDial()

	h.advance(17 * time.Second)
	require.NotNil(t, h.o.channels.current)

	h.advance(time.Second)

	assert.Nil(t, h.o.channels.current)
	assert.True(t, dial.closed)
	assert.Equal(t, KindChannelTimeout, h.view.snap.Fault)
	assert.Equal(t, "Could not establish P2P channel with xyz.", h.view.snap.Status)
	assert.Equal(t, "none", h.view.snap.Channel)
	assert.True(t, h.view.snap.Controls.Connect)
}

func TestOpenCancelsDialTimeout(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("xyz")
	gen := h.currentGen()

	h.channelEvent(gen, ChannelOpened)
	h.advance(time.Minute)
	assert.True(t, h.o.channels.isOpen())

	// A timeout that was already in flight when the channel opened.
	h.send(event{kind: evDialTimeout, gen: gen})
	assert.True(t, h.o.channels.isOpen())
	assert.Equal(t, KindNone, h.view.snap.Fault)
}

func TestStaleTimeoutDoesNotCloseNewerChannel(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("xyz")
	oldGen := h.currentGen()

	h.send(event{kind: evDisconnect})
	h.connect("xyz")
	newGen := h.currentGen()
	require.NotEqual(t, oldGen, newGen)

	h.send(event{kind: evDialTimeout, gen: oldGen})
	assert.True(t, h.o.channels.isCurrent(newGen))
	assert.False(t, h.net.last().lastDial().closed)
}

func TestSimultaneousDialConvergesOnLowerID(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	a.net.dialToken = "same"
	b.net.dialToken = "same"
	a.ready("aaa")
	b.ready("bbb")

	a.connect("bbb")
	b.connect("aaa")
	aOut := a.net.last().lastDial()
	bOut := b.net.last().lastDial()

	aIn := &fakeChannel{peer: "bbb", token: "same"}
	bIn := &fakeChannel{peer: "aaa", token: "same"}
	a.incomingChannel(aIn)
	b.incomingChannel(bIn)

	// A keeps its own dial; B keeps the incoming one, which is A's dial.
	assert.Equal(t, Outgoing, a.o.channels.current.direction)
	assert.Equal(t, Incoming, b.o.channels.current.direction)
	assert.False(t, aOut.closed)
	assert.True(t, aIn.closed)
	assert.True(t, bOut.closed)
	assert.False(t, bIn.closed)
}

func TestSimultaneousDialPrefersLowerToken(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	a.net.dialToken = "t-9"
	b.net.dialToken = "t-1"
	a.ready("aaa")
	b.ready("bbb")

	a.connect("bbb")
	b.connect("aaa")
	a.incomingChannel(&fakeChannel{peer: "bbb", token: "t-1"})
	b.incomingChannel(&fakeChannel{peer: "aaa", token: "t-9"})

	assert.Equal(t, "t-1", a.o.channels.current.token)
	assert.Equal(t, "t-1", b.o.channels.current.token)
	assert.Equal(t, Incoming, a.o.channels.current.direction)
	assert.Equal(t, Outgoing, b.o.channels.current.direction)
}

// Each side hears its own dial accepted before the other side's dial arrives.
func TestMutualDialConvergesAfterOwnOpen(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	a.net.dialToken = "t-9"
	b.net.dialToken = "t-1"
	a.ready("aaa")
	b.ready("bbb")

	a.connect("bbb")
	b.connect("aaa")
	aOut := a.net.last().lastDial()
	bOut := b.net.last().lastDial()
	a.channelEvent(a.currentGen(), ChannelOpened)
	b.channelEvent(b.currentGen(), ChannelOpened)

	aIn := &fakeChannel{peer: "bbb", token: "t-1", open: true}
	bIn := &fakeChannel{peer: "aaa", token: "t-9", open: true}
	a.incomingChannel(aIn)
	b.incomingChannel(bIn)

	require.NotNil(t, a.o.channels.current)
	require.NotNil(t, b.o.channels.current)
	assert.Equal(t, "t-1", a.o.channels.current.token)
	assert.Equal(t, "t-1", b.o.channels.current.token)
	assert.True(t, a.o.channels.isOpen())
	assert.True(t, b.o.channels.isOpen())
	assert.True(t, aOut.closed)
	assert.False(t, aIn.closed)
	assert.False(t, bOut.closed)
	assert.True(t, bIn.closed)
	assert.Equal(t, "Connected to bbb", a.view.snap.Status)
}

func TestMutualDialConvergesWhenOnlyOneSideOpened(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	a.net.dialToken = "t-1"
	b.net.dialToken = "t-9"
	a.ready("aaa")
	b.ready("bbb")

	a.connect("bbb")
	b.connect("aaa")
	// A still waits for its accept; B already has its own dial open.
	b.channelEvent(b.currentGen(), ChannelOpened)

	a.incomingChannel(&fakeChannel{peer: "bbb", token: "t-9", open: true})
	b.incomingChannel(&fakeChannel{peer: "aaa", token: "t-1", open: true})

	assert.Equal(t, "t-1", a.o.channels.current.token)
	assert.Equal(t, "t-1", b.o.channels.current.token)
	assert.Equal(t, Outgoing, a.o.channels.current.direction)
	assert.Equal(t, Incoming, b.o.channels.current.direction)
	assert.True(t, b.o.channels.isOpen())
}

func TestIncomingOpenChannelSkipsDialTimeout(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")

	in := &fakeChannel{peer: "xyz", token: "t-1", open: true}
	h.incomingChannel(in)

	require.True(t, h.o.channels.isOpen())
	assert.False(t, h.o.channels.timer.armedFor(h.currentGen()))
	assert.Equal(t, "Connected to xyz", h.view.snap.Status)
	msgs := in.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, control.TypePresence, msgs[0].Type)

	h.advance(time.Minute)
	assert.True(t, h.o.channels.isOpen())
	assert.False(t, in.closed)
}

func TestIncomingFromOtherPeerRejectedWhileOpen(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")
	gen := h.currentGen()

	intruder := &fakeChannel{peer: "zzz"}
	h.incomingChannel(intruder)

	assert.True(t, intruder.closed)
	assert.True(t, h.o.channels.isCurrent(gen))
	assert.Equal(t, "Rejected extra incoming connection from another peer.", h.view.snap.Status)
}

func TestPendingChannelReplacedByNewcomer(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("yyy")
	pending := h.net.last().lastDial()
	oldGen := h.currentGen()

	incoming := &fakeChannel{peer: "zzz"}
	h.incomingChannel(incoming)

	assert.True(t, pending.closed)
	assert.False(t, incoming.closed)
	assert.Equal(t, "zzz", h.o.channels.current.remote)
	assert.Equal(t, "Incoming connection from zzz...", h.view.snap.Status)

	// The loser's open event must not resurrect it.
	h.channelEvent(oldGen, ChannelOpened)
	assert.Equal(t, "zzz", h.o.channels.current.remote)
	assert.Equal(t, ChannelDialing, h.o.channels.current.state)
}

func TestAtMostOneOpenChannel(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")

	check := func() {
		open := 0
		if h.o.channels.current != nil && h.o.channels.current.open() {
			open++
		}
		assert.LessOrEqual(t, open, 1)
	}

	h.connect("p1")
	check()
	h.incomingChannel(&fakeChannel{peer: "p2"})
	check()
	h.channelEvent(h.currentGen(), ChannelOpened)
	check()
	h.incomingChannel(&fakeChannel{peer: "p3"})
	check()
	h.connect("p4")
	check()
	assert.Equal(t, "p2", h.o.channels.current.remote)
	assert.Equal(t, "Already connected to p2. Disconnect first.", h.view.snap.Status)
}

func TestChannelOpenSendsPresence(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")

	msgs := dial.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, control.TypePresence, msgs[0].Type)
	assert.False(t, msgs[0].IsSharing())
	assert.Equal(t, control.App, msgs[0].App)
	assert.Equal(t, "Connected to xyz", h.view.snap.Status)
	assert.Equal(t, "Data channel open with xyz", h.view.snap.ConnectionInfo)
	assert.True(t, h.view.snap.Controls.StartShare)
}

func TestChannelOpenWithCapturePlacesCall(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("xyz")
	stream := &fakeStream{id: "s", audio: true}
	h.o.local = &streamSlot{gen: h.o.nextGen(), stream: stream}

	h.channelEvent(h.currentGen(), ChannelOpened)

	require.Len(t, h.net.last().calls, 1)
	assert.Same(t, stream, h.net.last().calls[0].local)
	msgs := h.net.last().lastDial().messages(t)
	require.NotEmpty(t, msgs)
	assert.True(t, msgs[0].IsSharing())
}

func TestIncomingCallFromUntrustedPeerRejected(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")
	gen := h.currentGen()

	call := &fakeCall{peer: "zzz"}
	h.incomingCall(call)

	assert.True(t, call.closed)
	assert.False(t, call.answered)
	assert.Nil(t, h.o.calls.incoming)
	assert.True(t, h.o.channels.isCurrent(gen))
	assert.True(t, h.o.channels.isOpen())
	assert.Equal(t, KindCallRejectedUntrusted, h.view.snap.Fault)
}

func TestIncomingCallAdmittedBeforeOpenEventArrives(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("yyy")
	dial := h.net.last().lastDial()
	gen := h.currentGen()

	// The library accepted the dial; its open event is still in flight.
	dial.open = true
	call := &fakeCall{peer: "yyy"}
	h.incomingCall(call)

	assert.True(t, call.answered)
	require.NotNil(t, h.o.calls.incoming)
	assert.Equal(t, ChannelOpen, h.o.channels.current.state)
	assert.Equal(t, "Connected to yyy", h.view.snap.Status)

	h.channelEvent(gen, ChannelOpened)
	assert.Len(t, dial.messages(t), 1, "presence is sent once")
}

func TestIncomingCallBeforeChannelOpenRejected(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("yyy")

	call := &fakeCall{peer: "yyy"}
	h.incomingCall(call)

	assert.True(t, call.closed)
	assert.Nil(t, h.o.calls.incoming)
	assert.Equal(t, ChannelDialing, h.o.channels.current.state)
}

func TestIncomingCallAdmittedAndStreamTracked(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")

	call := &fakeCall{peer: "yyy"}
	h.incomingCall(call)
	require.NotNil(t, h.o.calls.incoming)
	assert.True(t, call.answered)
	assert.Nil(t, call.answeredWith, "receive-only answer when not sharing")
	assert.Equal(t, CallPending, h.o.calls.incoming.state)

	callGen := h.o.calls.incoming.gen
	remote := &fakeStream{id: "remote", audio: true}
	h.callEvent(callGen, CallEvent{Kind: CallStream, Stream: remote})

	assert.Equal(t, CallActive, h.o.calls.incoming.state)
	assert.True(t, h.view.snap.Receiving)
	assert.True(t, h.view.snap.FriendSharing)
	assert.Equal(t, "Receiving remote stream.", h.view.snap.Status)
	assert.Equal(t, "Receiving yyy's stream", h.view.snap.ConnectionInfo)
	assert.False(t, h.view.snap.Live, "live tracks the local share only")

	h.callEvent(callGen, CallEvent{Kind: CallClosed})
	assert.Nil(t, h.o.calls.incoming)
	assert.False(t, h.view.snap.Receiving)
	assert.Equal(t, "Connected. Waiting for friend stream.", h.view.snap.Status)
}

func TestSecondIncomingCallReplacesFirst(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")

	first := &fakeCall{peer: "yyy"}
	h.incomingCall(first)
	firstGen := h.o.calls.incoming.gen
	second := &fakeCall{peer: "yyy"}
	h.incomingCall(second)

	assert.True(t, first.closed)
	assert.False(t, second.closed)

	// Late events from the replaced call are ignored.
	h.callEvent(firstGen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "old"}})
	assert.False(t, h.view.snap.Receiving)
	h.callEvent(firstGen, CallEvent{Kind: CallFailed, Message: "boom"})
	assert.NotNil(t, h.o.calls.incoming)
}

func TestIncomingCallErrorClearsRemoteStream(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")
	h.incomingCall(&fakeCall{peer: "yyy"})
	callGen := h.o.calls.incoming.gen
	h.callEvent(callGen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "r"}})

	h.callEvent(callGen, CallEvent{Kind: CallFailed, Message: "ice failed"})

	assert.Nil(t, h.o.calls.incoming)
	assert.Nil(t, h.o.remote)
	assert.Equal(t, KindCallTransportError, h.view.snap.Fault)
	assert.Equal(t, "Media call error: ice failed", h.view.snap.Status)
}

func TestAnswerFailureClosesCall(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "yyy")

	call := &fakeCall{peer: "yyy", answerErr: fmt.Errorf("sdp rejected")}
	h.incomingCall(call)

	assert.True(t, call.closed)
	assert.Nil(t, h.o.calls.incoming)
	assert.Equal(t, "Failed to answer incoming call: sdp rejected", h.view.snap.Status)
}

func TestStartShareRequiresOpenChannel(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")

	h.startShare()

	assert.Equal(t, []string{"Connect to a friend before starting screen share."}, h.view.alerts())
	assert.Empty(t, h.capture.requests)
	assert.Nil(t, h.o.local)
}

func TestStartShare(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")

	h.startShare()

	require.NotNil(t, h.o.local)
	require.Len(t, h.capture.requests, 1)
	assert.Equal(t, DefaultConstraints(), h.capture.requests[0])
	assert.Equal(t, 1, h.view.minimize)
	assert.True(t, h.view.snap.Live)
	assert.True(t, h.view.snap.Controls.StopShare)
	assert.False(t, h.view.snap.Controls.StartShare)
	assert.Equal(t, "Streaming Live", h.view.snap.Status)

	msgs := dial.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, control.TypeSharingStarted, msgs[1].Type)

	calls := h.net.last().calls
	require.Len(t, calls, 1)
	assert.Equal(t, "xyz", calls[0].peer)
	assert.NotNil(t, h.o.calls.outgoing)

	h.startShare()
	assert.Equal(t, "You are already sharing.", h.view.notices[len(h.view.notices)-1].Text)
	assert.Len(t, h.capture.requests, 1)
}

func TestStartShareAnswersLaterCallsWithCapture(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	h.startShare()

	call := &fakeCall{peer: "xyz"}
	h.incomingCall(call)

	assert.Same(t, h.o.local.stream, call.answeredWith)
}

func TestCaptureMissingAudioIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	stream := &fakeStream{id: "video-only"}
	h.capture.stream = stream

	h.startShare()

	assert.True(t, stream.stopped)
	assert.Nil(t, h.o.local)
	assert.Empty(t, h.net.last().calls)
	assert.Zero(t, h.view.minimize)
	assert.Equal(t, KindCaptureMissingAudio, h.view.snap.Fault)
	assert.Equal(t, []string{"You forgot to check 'Share System Audio'. Please try again."}, h.view.alerts())
}

func TestCaptureFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status string
	}{
		{"permission", ErrPermissionDenied, KindCapturePermissionDenied, "Screen share was canceled or blocked by permissions."},
		{"no source", ErrNoSourceFound, KindCaptureSourceNotFound, "No screen/audio source found."},
		{"other", fmt.Errorf("device busy"), KindUnknown, "Failed to start screen share: device busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.openWith("abc", "xyz")
			h.capture.stream = nil
			h.capture.err = tt.err

			h.startShare()

			assert.Nil(t, h.o.local)
			assert.Equal(t, tt.kind, h.view.snap.Fault)
			assert.Equal(t, tt.status, h.view.snap.Status)
			assert.True(t, h.view.snap.Controls.StartShare)
			assert.True(t, h.o.channels.isOpen())
		})
	}
}

func TestCaptureResultAfterChannelLossIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	h.o.async = func(func()) {}

	h.startShare()
	gen := h.o.selecting
	require.NotZero(t, gen)
	h.channelEvent(h.currentGen(), ChannelClosed)

	stream := &fakeStream{id: "late", audio: true}
	h.send(event{kind: evCaptureResult, gen: gen, stream: stream})

	assert.True(t, stream.stopped)
	assert.Nil(t, h.o.local)
	assert.Zero(t, h.view.minimize)
}

func TestStopShare(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()
	stream := h.o.local.stream.(*fakeStream)
	outgoing := h.net.last().calls[0]

	h.send(event{kind: evStopShare, reason: "Stopped by user."})

	assert.True(t, stream.stopped)
	assert.True(t, outgoing.closed)
	assert.Nil(t, h.o.calls.outgoing)
	assert.Equal(t, 1, h.view.restore)
	assert.False(t, h.view.snap.Live)
	assert.Equal(t, "Connected. Not sharing.", h.view.snap.Status)

	msgs := dial.messages(t)
	last := msgs[len(msgs)-1]
	assert.Equal(t, control.TypeSharingStopped, last.Type)
	assert.Equal(t, "Stopped by user.", last.Reason)

	h.send(event{kind: evStopShare, reason: "again"})
	assert.Equal(t, 1, h.view.restore, "restore is issued once per share")
}

func TestLocalTrackEndStopsShare(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()

	h.send(event{kind: evLocalEnded, gen: h.o.local.gen})

	assert.Nil(t, h.o.local)
	msgs := dial.messages(t)
	assert.Equal(t, "Capture ended by user from picker.", msgs[len(msgs)-1].Reason)
}

func TestOutgoingCallCloseKeepsCapture(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	h.startShare()
	gen := h.o.calls.outgoing.gen

	h.callEvent(gen, CallEvent{Kind: CallClosed})

	assert.Nil(t, h.o.calls.outgoing)
	assert.NotNil(t, h.o.local)
	assert.True(t, h.view.snap.Live)
	assert.Equal(t, "Connected to xyz (stream sent)", h.view.snap.ConnectionInfo)
}

func TestChannelLossCascades(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()
	stream := h.o.local.stream.(*fakeStream)
	outgoing := h.net.last().calls[0]
	incoming := &fakeCall{peer: "xyz"}
	h.incomingCall(incoming)
	h.callEvent(h.o.calls.incoming.gen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "r"}})
	sentBefore := len(dial.sent)

	h.channelEvent(h.currentGen(), ChannelClosed)

	assert.Nil(t, h.o.channels.current)
	assert.Nil(t, h.o.calls.outgoing)
	assert.Nil(t, h.o.calls.incoming)
	assert.Nil(t, h.o.remote)
	assert.Nil(t, h.o.local)
	assert.True(t, outgoing.closed)
	assert.True(t, incoming.closed)
	assert.True(t, stream.stopped)
	assert.Equal(t, 1, h.view.restore)
	assert.Len(t, dial.sent, sentBefore, "sharing-stopped is dropped without a channel")
	assert.Equal(t, "Waiting for connection...", h.view.snap.Status)
	assert.False(t, h.view.snap.FriendSharing)
}

func TestChannelErrorWhileOpenCascades(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()

	h.send(event{kind: evChannel, gen: h.currentGen(), channel: ChannelEvent{Kind: ChannelFailed, Message: "sctp reset"}})

	assert.Nil(t, h.o.channels.current)
	assert.Nil(t, h.o.local)
	assert.True(t, dial.closed)
	assert.Equal(t, KindChannelTransportError, h.view.snap.Fault)
	assert.Equal(t, "Data connection error: sctp reset", h.view.snap.Status)
}

func TestChannelErrorWhileDialing(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("xyz")

	h.send(event{kind: evChannel, gen: h.currentGen(), channel: ChannelEvent{Kind: ChannelFailed}})

	assert.Nil(t, h.o.channels.current)
	assert.Equal(t, "Connection failed. Try Connect again.", h.view.snap.ConnectionInfo)
	assert.Equal(t, "Data connection error: unknown error", h.view.snap.Status)
}

func TestStaleChannelCloseIgnored(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("yyy")
	oldGen := h.currentGen()
	h.incomingChannel(&fakeChannel{peer: "zzz"})
	h.channelEvent(h.currentGen(), ChannelOpened)

	h.channelEvent(oldGen, ChannelClosed)

	assert.True(t, h.o.channels.isOpen())
	assert.Equal(t, "zzz", h.o.channels.current.remote)
}

func TestReceiverPolicy(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	gen := h.currentGen()

	h.channelData(gen, control.SharingStarted())
	assert.True(t, h.view.snap.FriendSharing)
	assert.Equal(t, "Friend started sharing. Waiting for stream...", h.view.snap.Status)

	h.send(event{kind: evChannel, gen: gen, channel: ChannelEvent{Kind: ChannelData, Data: []byte(`{"type":"cursor"}`)}})
	assert.Equal(t, "Friend started sharing. Waiting for stream...", h.view.snap.Status)

	h.channelData(gen, control.SharingStopped("Stopped by user."))
	assert.False(t, h.view.snap.FriendSharing)
	assert.Equal(t, "Connected. Not sharing.", h.view.snap.Status)

	h.channelData(gen, control.Presence(true))
	assert.True(t, h.view.snap.FriendSharing)
}

func TestSharingStoppedIgnoredWhileStreamActive(t *testing.T) {
	h := newHarness(t)
	h.openWith("abc", "xyz")
	gen := h.currentGen()
	h.incomingCall(&fakeCall{peer: "xyz"})
	h.callEvent(h.o.calls.incoming.gen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "r"}})

	h.channelData(gen, control.SharingStopped("Stopped by user."))

	assert.True(t, h.view.snap.FriendSharing)
	assert.True(t, h.view.snap.Receiving)
	assert.Equal(t, "Receiving remote stream.", h.view.snap.Status)

	h.send(event{kind: evRemoteEnded, gen: h.o.remote.gen})
	assert.False(t, h.view.snap.Receiving)
	assert.Equal(t, "Connected. Waiting for friend stream.", h.view.snap.Status)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()

	h.send(event{kind: evDisconnect})

	assert.True(t, dial.closed)
	assert.Nil(t, h.o.channels.current)
	assert.Nil(t, h.o.local)
	assert.Equal(t, 1, h.view.restore)
	assert.Equal(t, "Disconnected. Waiting for connection...", h.view.snap.Status)
	assert.False(t, h.view.snap.Controls.Disconnect)
	assert.True(t, h.view.snap.Controls.Connect)

	msgs := dial.messages(t)
	assert.Equal(t, "Disconnected by user.", msgs[len(msgs)-1].Reason)
}

func TestReconnectTearsEverythingDown(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()
	stream := h.o.local.stream.(*fakeStream)
	incoming := &fakeCall{peer: "xyz"}
	h.incomingCall(incoming)
	h.callEvent(h.o.calls.incoming.gen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "r"}})
	first := h.net.last()
	firstGen := h.o.identity.gen

	h.send(event{kind: evReconnect})

	assert.True(t, first.destroyed)
	assert.True(t, dial.closed)
	assert.True(t, incoming.closed)
	assert.True(t, first.calls[0].closed)
	assert.True(t, stream.stopped)
	assert.Nil(t, h.o.channels.current)
	assert.Nil(t, h.o.calls.outgoing)
	assert.Nil(t, h.o.calls.incoming)
	assert.Nil(t, h.o.remote)
	assert.Nil(t, h.o.local)
	assert.Equal(t, 1, h.view.restore)
	require.Len(t, h.net.identities, 2)
	assert.Equal(t, "Reconnecting signal server...", h.view.snap.Status)
	assert.Empty(t, h.view.snap.PeerID)
	assert.False(t, h.view.snap.Ready)

	// Events from the discarded identity are ignored.
	h.send(event{kind: evIdentity, gen: firstGen, identity: IdentityEvent{Kind: IdentityOpened, ID: "abc"}})
	assert.False(t, h.view.snap.Ready)

	h.ready("def")
	assert.Equal(t, "def", h.view.snap.PeerID)
}

func TestIdentityDisconnectKeepsObject(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")

	h.identityEvent(IdentityEvent{Kind: IdentityDisconnected})

	assert.False(t, h.view.snap.Ready)
	assert.False(t, h.net.last().destroyed)
	assert.Equal(t, "Signal disconnected. Attempting reconnect...", h.view.snap.Status)

	h.ready("abc")
	assert.True(t, h.view.snap.Ready)
}

func TestIdentityClosedRequiresReconnect(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")

	h.identityEvent(IdentityEvent{Kind: IdentityClosed})

	assert.False(t, h.view.snap.Ready)
	assert.Equal(t, LevelError, h.view.snap.Level)
	assert.Equal(t, "Signal closed. Click Reconnect Signal.", h.view.snap.Status)
	assert.False(t, h.view.snap.Controls.Connect)

	h.connect("xyz")
	assert.Equal(t, "Peer is not ready yet.", h.view.notices[len(h.view.notices)-1].Text)
}

func TestIdentityClosedInvalidatesChannelAndMedia(t *testing.T) {
	h := newHarness(t)
	dial := h.openWith("abc", "xyz")
	h.startShare()
	stream := h.o.local.stream.(*fakeStream)
	outgoing := h.net.last().calls[0]
	incoming := &fakeCall{peer: "xyz"}
	h.incomingCall(incoming)
	h.callEvent(h.o.calls.incoming.gen, CallEvent{Kind: CallStream, Stream: &fakeStream{id: "r"}})
	ident := h.net.last()

	h.identityEvent(IdentityEvent{Kind: IdentityClosed})

	assert.True(t, ident.destroyed)
	assert.True(t, dial.closed)
	assert.True(t, outgoing.closed)
	assert.True(t, incoming.closed)
	assert.True(t, stream.stopped)
	assert.Nil(t, h.o.channels.current)
	assert.Nil(t, h.o.local)
	assert.Nil(t, h.o.remote)
	assert.False(t, h.o.calls.any())
	assert.Equal(t, 1, h.view.restore)

	snap := h.view.snap
	assert.Equal(t, "none", snap.Channel)
	assert.False(t, snap.Live)
	assert.False(t, snap.Receiving)
	assert.False(t, snap.FriendSharing)
	assert.Equal(t, "Signal closed. Click Reconnect Signal.", snap.Status)
	assert.Equal(t, LevelError, snap.Level)
	assert.False(t, snap.Controls.Disconnect)
}

func TestUnavailableAlertOncePerEpisode(t *testing.T) {
	h := newHarness(t)
	unavailable := IdentityEvent{Kind: IdentityError, Err: KindIdentityUnavailable}

	h.identityEvent(unavailable)
	h.identityEvent(unavailable)
	assert.Len(t, h.view.alerts(), 1)
	assert.Equal(t, KindIdentityUnavailable, h.view.snap.Fault)

	h.ready("abc")
	h.identityEvent(unavailable)
	assert.Len(t, h.view.alerts(), 2)
}

func TestPeerUnreachableClearsDial(t *testing.T) {
	h := newHarness(t)
	h.ready("abc")
	h.connect("ghost")
	dial := h.net.last().lastDial()

	h.identityEvent(IdentityEvent{Kind: IdentityError, Err: KindPeerUnreachable, Peer: "ghost"})

	assert.True(t, dial.closed)
	assert.Nil(t, h.o.channels.current)
	assert.Equal(t, "Friend ID not found or currently offline.", h.view.snap.Status)
	assert.Equal(t, KindPeerUnreachable, h.view.snap.Fault)
}

func TestUnknownIdentityErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.identityEvent(IdentityEvent{Kind: IdentityError, Err: KindUnknown, Message: "quota"})
	assert.Equal(t, "Peer error (Unknown): quota", h.view.snap.Status)
}
