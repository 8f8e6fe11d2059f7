package session

import "context"

// Network is the peer networking library the orchestrator drives. It owns
// signaling, NAT traversal and media transport; the orchestrator only sees
// handles and their events.
type Network interface {
	// Register creates a new identity object. Registration proceeds in the
	// background and its outcome is reported on the identity's event stream.
	Register() Identity
}

// IdentityEventKind enumerates what an identity object can report.
type IdentityEventKind int

const (
	IdentityOpened IdentityEventKind = iota
	IdentityDisconnected
	IdentityClosed
	IdentityError
	IdentityIncomingChannel
	IdentityIncomingCall
)

func (k IdentityEventKind) String() string {
	switch k {
	case IdentityOpened:
		return "opened"
	case IdentityDisconnected:
		return "disconnected"
	case IdentityClosed:
		return "closed"
	case IdentityError:
		return "error"
	case IdentityIncomingChannel:
		return "incoming-channel"
	case IdentityIncomingCall:
		return "incoming-call"
	}
	return "unknown"
}

// IdentityEvent is one event raised by an identity object.
type IdentityEvent struct {
	Kind IdentityEventKind

	// ID is set for IdentityOpened.
	ID string

	// Err, Peer and Message describe an IdentityError. Peer names the remote
	// peer the failure concerns, when there is one.
	Err     ErrorKind
	Peer    string
	Message string

	Channel Channel // IdentityIncomingChannel
	Call    Call    // IdentityIncomingCall
}

// Identity is a registered (or registering) identity with the signaling service.
type Identity interface {
	Events() <-chan IdentityEvent
	Dial(peerID string, opts DialOptions) (Channel, error)
	Call(peerID string, stream MediaStream, opts CallOptions) (Call, error)
	// Destroy discards the identity object together with every channel and
	// call it carries. No further events are delivered.
	Destroy()
}

// DialOptions are passed through to the library when opening a channel.
type DialOptions struct {
	Reliable      bool
	Serialization string
	Metadata      map[string]string
}

// CallOptions are passed through to the library when placing a call.
type CallOptions struct {
	Metadata map[string]string
}

// ChannelEventKind enumerates control channel events.
type ChannelEventKind int

const (
	ChannelOpened ChannelEventKind = iota
	ChannelData
	ChannelClosed
	ChannelFailed
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpened:
		return "open"
	case ChannelData:
		return "data"
	case ChannelClosed:
		return "close"
	case ChannelFailed:
		return "error"
	}
	return "unknown"
}

// ChannelEvent is one event raised by a channel handle.
type ChannelEvent struct {
	Kind    ChannelEventKind
	Data    []byte
	Err     ErrorKind
	Message string
}

// Channel is a handle on a control connection to one remote peer.
type Channel interface {
	Peer() string
	// Token is stable for the lifetime of the connection and comparable
	// between both ends. It may be empty.
	Token() string
	// Open reports whether the library already considers the connection
	// open. An accepted incoming channel is open before its first event.
	Open() bool
	Events() <-chan ChannelEvent
	Send(payload []byte) error
	Close()
}

// CallEventKind enumerates media call events.
type CallEventKind int

const (
	CallStream CallEventKind = iota
	CallClosed
	CallFailed
)

func (k CallEventKind) String() string {
	switch k {
	case CallStream:
		return "stream"
	case CallClosed:
		return "close"
	case CallFailed:
		return "error"
	}
	return "unknown"
}

// CallEvent is one event raised by a call handle.
type CallEvent struct {
	Kind    CallEventKind
	Stream  MediaStream
	Err     ErrorKind
	Message string
}

// Call is a handle on one media call.
type Call interface {
	Peer() string
	// Answer accepts an incoming call. A nil stream answers receive-only.
	Answer(stream MediaStream) error
	Events() <-chan CallEvent
	Close()
}

// MediaStream is a local or remote media source.
type MediaStream interface {
	ID() string
	HasAudio() bool
	// Ended is closed once any track of the stream has ended.
	Ended() <-chan struct{}
	Stop()
}

// Constraints describe the display capture requested from the host.
type Constraints struct {
	FrameRateIdeal int
	FrameRateMax   int
	SystemAudio    bool
}

// DefaultConstraints asks for a 30fps screen with system audio.
func DefaultConstraints() Constraints {
	return Constraints{FrameRateIdeal: 30, FrameRateMax: 60, SystemAudio: true}
}

// CaptureProvider acquires the local display capture. Implementations return
// ErrPermissionDenied or ErrNoSourceFound for the user-caused failures.
type CaptureProvider interface {
	Acquire(ctx context.Context, c Constraints) (MediaStream, error)
}
