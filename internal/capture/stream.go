// Package capture provides display capture sources for the session.
package capture

import (
	"sync"

	"github.com/google/uuid"
)

// Stream is a captured display stream. Ending it, whether through Stop or
// because the source went away, closes Ended exactly once.
type Stream struct {
	id    string
	audio bool

	once  sync.Once
	ended chan struct{}
}

// NewStream creates a live stream with a random id.
func NewStream(audio bool) *Stream {
	return &Stream{
		id:    uuid.New().String(),
		audio: audio,
		ended: make(chan struct{}),
	}
}

func (s *Stream) ID() string             { return s.id }
func (s *Stream) HasAudio() bool         { return s.audio }
func (s *Stream) Ended() <-chan struct{} { return s.ended }

// Stop ends the stream. It is safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(func() { close(s.ended) })
}

// Live reports whether the stream has not ended yet.
func (s *Stream) Live() bool {
	select {
	case <-s.ended:
		return false
	default:
		return true
	}
}

// Describe returns a handle for a stream captured elsewhere, such as the
// share a remote peer attached to a call.
func Describe(id string, audio bool) *Stream {
	return &Stream{id: id, audio: audio, ended: make(chan struct{})}
}
