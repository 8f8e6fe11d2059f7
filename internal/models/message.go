package models

import "encoding/json"

// SignalType represents the type of a relay message
type SignalType string

const (
	SignalTypeRegistered    SignalType = "registered"
	SignalTypeChannelOpen   SignalType = "channel-open"
	SignalTypeChannelAccept SignalType = "channel-accept"
	SignalTypeChannelData   SignalType = "channel-data"
	SignalTypeChannelClose  SignalType = "channel-close"
	SignalTypeCallOffer     SignalType = "call-offer"
	SignalTypeCallAnswer    SignalType = "call-answer"
	SignalTypeCallClose     SignalType = "call-close"
	SignalTypeTrackEnded    SignalType = "track-ended"
	SignalTypeError         SignalType = "error"
)

// Error types sent by the service
const (
	ErrorPeerUnavailable = "peer-unavailable"
	ErrorBadMessage      = "bad-message"
)

// Relayed reports whether messages of this type are forwarded to another peer
func (t SignalType) Relayed() bool {
	switch t {
	case SignalTypeChannelOpen, SignalTypeChannelAccept, SignalTypeChannelData, SignalTypeChannelClose,
		SignalTypeCallOffer, SignalTypeCallAnswer, SignalTypeCallClose, SignalTypeTrackEnded:
		return true
	}
	return false
}

// SignalMessage represents a message on the signaling socket. Token names the
// channel or call the message belongs to.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
