// Package session implements the session orchestrator: the state machine that
// owns the local identity, the single control channel to a remote peer, the
// two media call slots and the local and remote streams.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds how long a channel may stay in the dialing state.
const DefaultDialTimeout = 18 * time.Second

const defaultQueueSize = 256

// Options tune an Orchestrator. Zero values select defaults.
type Options struct {
	DialTimeout time.Duration
	Clock       Clock
	Constraints Constraints
	QueueSize   int
	Logger      *logrus.Entry
}

// streamSlot tracks a local or remote media stream. callGen records which
// call delivered a remote stream.
type streamSlot struct {
	gen     uint64
	stream  MediaStream
	callGen uint64
	peer    string
}

// Orchestrator sequences one peer-to-peer session. All state lives in its
// private slots and is only touched from the goroutine running Run.
type Orchestrator struct {
	network     Network
	capture     CaptureProvider
	view        Presenter
	clock       Clock
	constraints Constraints
	log         *logrus.Entry

	queue    chan event
	done     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	async    func(func())

	gen uint64

	identity *identityManager
	channels *channelManager
	calls    callManager

	local         *streamSlot
	remote        *streamSlot
	selecting     uint64
	friendSharing bool

	status string
	level  Level
	fault  ErrorKind
	info   string
}

// New builds an orchestrator around the given collaborators.
func New(network Network, capture CaptureProvider, view Presenter, opts Options) (*Orchestrator, error) {
	if network == nil {
		return nil, errors.New("network cannot be nil")
	}
	if capture == nil {
		return nil, errors.New("capture provider cannot be nil")
	}
	if view == nil {
		return nil, errors.New("presenter cannot be nil")
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "session")
	}

	o := &Orchestrator{
		network:     network,
		capture:     capture,
		view:        view,
		clock:       opts.Clock,
		constraints: opts.Constraints,
		log:         opts.Logger,
		queue:       make(chan event, opts.QueueSize),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		async:       func(f func()) { go f() },
		identity:    newIdentityManager(network),
		channels:    newChannelManager(opts.Clock, opts.DialTimeout),
		level:       LevelIdle,
		info:        "Waiting for connection...",
	}

	o.log.WithFields(logrus.Fields{
		"function":     "New",
		"dial_timeout": opts.DialTimeout,
	}).Debug("Session orchestrator configured")

	return o, nil
}

// Run registers an identity and processes events until ctx is cancelled or
// Shutdown is requested. Everything is torn down before it returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer o.stop()

	o.startIdentity("Connecting to signaling service...")
	o.render()

	for {
		select {
		case <-ctx.Done():
			o.teardown(false)
			o.render()
			return ctx.Err()
		case ev := <-o.queue:
			o.process(ev)
			if ev.kind == evShutdown {
				return nil
			}
		}
	}
}

// Connect dials peerID.
func (o *Orchestrator) Connect(peerID string) {
	o.post(event{kind: evConnect, peer: strings.TrimSpace(peerID)})
}

// Disconnect ends the share, both calls and the control channel.
func (o *Orchestrator) Disconnect() { o.post(event{kind: evDisconnect}) }

// StartShare asks the capture provider for a display stream and shares it.
func (o *Orchestrator) StartShare() { o.post(event{kind: evStartShare}) }

// StopShare ends the local share.
func (o *Orchestrator) StopShare() {
	o.post(event{kind: evStopShare, reason: "Stopped by user."})
}

// Reconnect discards the identity with everything attached to it and
// registers a new one.
func (o *Orchestrator) Reconnect() { o.post(event{kind: evReconnect}) }

// Shutdown tears the session down without restoring the host window and makes
// Run return.
func (o *Orchestrator) Shutdown() { o.post(event{kind: evShutdown}) }

func (o *Orchestrator) stop() {
	o.stopOnce.Do(func() { close(o.done) })
}

// post enqueues ev unless the loop has already stopped.
func (o *Orchestrator) post(ev event) {
	select {
	case o.queue <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) process(ev event) {
	handler, ok := transitions[ev.kind]
	if !ok {
		o.log.WithFields(logrus.Fields{
			"function": "process",
			"event":    ev.kind,
		}).Warn("No transition for event")
		return
	}
	handler(o, ev)
	o.render()
}

func (o *Orchestrator) nextGen() uint64 {
	o.gen++
	return o.gen
}

// forward pumps a handle's event stream into the queue, tagging each value.
func forward[T any](o *Orchestrator, src <-chan T, wrap func(T) event) {
	if src == nil {
		return
	}
	go func() {
		for {
			select {
			case v, ok := <-src:
				if !ok {
					return
				}
				o.post(wrap(v))
			case <-o.done:
				return
			}
		}
	}()
}

func (o *Orchestrator) watchIdentity(gen uint64, ident Identity) {
	forward(o, ident.Events(), func(ie IdentityEvent) event {
		return event{kind: evIdentity, gen: gen, identity: ie}
	})
}

func (o *Orchestrator) watchChannel(gen uint64, ch Channel) {
	forward(o, ch.Events(), func(ce ChannelEvent) event {
		return event{kind: evChannel, gen: gen, channel: ce}
	})
}

func (o *Orchestrator) watchCall(gen uint64, call Call) {
	forward(o, call.Events(), func(ce CallEvent) event {
		return event{kind: evCall, gen: gen, call: ce}
	})
}

func (o *Orchestrator) watchEnded(kind eventKind, gen uint64, stream MediaStream) {
	ended := stream.Ended()
	if ended == nil {
		return
	}
	go func() {
		select {
		case <-ended:
			o.post(event{kind: kind, gen: gen})
		case <-o.done:
		}
	}()
}

// dialTimedOut runs on the timer goroutine.
func (o *Orchestrator) dialTimedOut(gen uint64) {
	o.post(event{kind: evDialTimeout, gen: gen})
}

func (o *Orchestrator) setStatus(text string, level Level) {
	o.status = text
	o.level = level
	o.fault = KindNone
}

// report sets a status line that carries a classified failure.
func (o *Orchestrator) report(kind ErrorKind, text string, level Level) {
	o.status = text
	o.level = level
	o.fault = kind
	o.log.WithFields(logrus.Fields{
		"function": "report",
		"kind":     kind,
	}).Warn(text)
}

func (o *Orchestrator) toast(text string) {
	o.view.Notify(Notice{Kind: NoticeToast, Text: text})
}

func (o *Orchestrator) alert(text string) {
	o.view.Notify(Notice{Kind: NoticeAlert, Text: text})
}

// snapshot projects the current slots for the UI.
func (o *Orchestrator) snapshot() Snapshot {
	cur := o.channels.current
	connected := cur != nil && cur.open()
	dialing := cur != nil && !cur.open()

	s := Snapshot{
		PeerID:         o.identity.id,
		Ready:          o.identity.ready,
		Channel:        "none",
		Status:         o.status,
		Level:          o.level,
		Fault:          o.fault,
		ConnectionInfo: o.info,
		Live:           o.local != nil,
		Receiving:      o.remote != nil,
		FriendSharing:  o.friendSharing,
		Controls: Controls{
			Connect:    o.identity.ready && !connected && !dialing,
			Disconnect: connected || dialing || o.local != nil || o.remote != nil || o.calls.any(),
			StartShare: connected && o.local == nil && o.selecting == 0,
			StopShare:  o.local != nil,
			CopyID:     o.identity.id != "",
		},
	}
	if cur != nil {
		s.RemotePeer = cur.remote
		s.Channel = cur.state.String()
	}
	return s
}

func (o *Orchestrator) render() {
	o.view.Render(o.snapshot())
}
