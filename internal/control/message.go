// Package control encodes the small messages peers exchange over an open
// control channel.
package control

import (
	"encoding/json"
	"time"
)

// App tags every message so peers can tell ours from foreign traffic.
const App = "p2p-screen-share"

// Type identifies a control message kind.
type Type string

const (
	TypePresence       Type = "presence"
	TypeSharingStarted Type = "sharing-started"
	TypeSharingStopped Type = "sharing-stopped"
)

// Message is the wire shape shared by every kind. Sharing is only meaningful
// for presence, Reason only for sharing-stopped.
type Message struct {
	App     string `json:"app"`
	At      int64  `json:"at"`
	Type    Type   `json:"type"`
	Sharing *bool  `json:"sharing,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Presence announces whether the sender is currently sharing.
func Presence(sharing bool) Message {
	return Message{Type: TypePresence, Sharing: &sharing}
}

// SharingStarted announces that the sender's capture became available.
func SharingStarted() Message {
	return Message{Type: TypeSharingStarted}
}

// SharingStopped announces that the sender's capture went away.
func SharingStopped(reason string) Message {
	return Message{Type: TypeSharingStopped, Reason: reason}
}

// IsSharing reports the presence flag, false when absent.
func (m Message) IsSharing() bool {
	return m.Sharing != nil && *m.Sharing
}

// Encode stamps m with the app tag and at, then serializes it.
func Encode(m Message, at time.Time) ([]byte, error) {
	m.App = App
	m.At = at.UnixMilli()
	return json.Marshal(m)
}

// Decode parses data. Shapes it does not recognise yield ok == false so the
// caller can ignore them.
func Decode(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case TypePresence:
		if m.Sharing == nil {
			return Message{}, false
		}
	case TypeSharingStarted, TypeSharingStopped:
	default:
		return Message{}, false
	}
	return m, true
}
