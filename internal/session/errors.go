package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the orchestrator can observe. Library
// specific error strings are decoded into a kind once, at the network boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknown
	KindIdentityUnavailable
	KindPeerUnreachable
	KindChannelTimeout
	KindChannelTransportError
	KindCallRejectedUntrusted
	KindCallTransportError
	KindCapturePermissionDenied
	KindCaptureSourceNotFound
	KindCaptureMissingAudio
)

var kindNames = map[ErrorKind]string{
	KindNone:                    "None",
	KindUnknown:                 "Unknown",
	KindIdentityUnavailable:     "IdentityUnavailable",
	KindPeerUnreachable:         "PeerUnreachable",
	KindChannelTimeout:          "ChannelTimeout",
	KindChannelTransportError:   "ChannelTransportError",
	KindCallRejectedUntrusted:   "CallRejectedUntrusted",
	KindCallTransportError:      "CallTransportError",
	KindCapturePermissionDenied: "CapturePermissionDenied",
	KindCaptureSourceNotFound:   "CaptureSourceNotFound",
	KindCaptureMissingAudio:     "CaptureMissingAudio",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText lets snapshots carry the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// ParseErrorKind decodes the error type strings used on the signaling wire.
func ParseErrorKind(wire string) ErrorKind {
	switch wire {
	case "":
		return KindNone
	case "peer-unavailable":
		return KindPeerUnreachable
	case "server-error", "socket-error", "socket-closed", "network", "unavailable-id":
		return KindIdentityUnavailable
	case "webrtc", "negotiation-failed", "connection":
		return KindChannelTransportError
	case "call":
		return KindCallTransportError
	default:
		return KindUnknown
	}
}

// Sentinel errors returned by capture providers.
var (
	// ErrPermissionDenied indicates the user canceled the picker or the OS refused access.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrNoSourceFound indicates no screen or audio source is available.
	ErrNoSourceFound = errors.New("no capture source found")
)

// Dial precondition errors.
var (
	ErrIdentityNotReady = errors.New("identity is not ready")
	ErrEmptyPeerID      = errors.New("peer id is empty")
	ErrSelfDial         = errors.New("cannot dial own peer id")
	ErrAlreadyOpen      = errors.New("channel to peer already open")
	ErrAlreadyDialing   = errors.New("channel to peer still dialing")
)

// Call admission errors.
var (
	ErrCallUntrusted = errors.New("no open control channel with caller")
	ErrNoChannel     = errors.New("no open control channel with peer")
	ErrNoStream      = errors.New("no local stream to send")
)

// Error ties a kind to the peer it concerns and the underlying cause.
type Error struct {
	Kind ErrorKind
	Peer string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Peer != "" {
		msg += " (" + e.Peer + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from err, mapping capture sentinels as well.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindCapturePermissionDenied
	case errors.Is(err, ErrNoSourceFound):
		return KindCaptureSourceNotFound
	case errors.Is(err, ErrCallUntrusted):
		return KindCallRejectedUntrusted
	}
	return KindUnknown
}
