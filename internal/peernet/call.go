package peernet

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/capture"
	"github.com/mossy-p/screenshare/internal/models"
	"github.com/mossy-p/screenshare/internal/session"
)

// Call is a media call negotiated through the signaling socket. Only stream
// descriptors cross the relay; each side learns about the other's stream and
// when its track ends.
type Call struct {
	ident    *Identity
	peer     string
	token    string
	metadata map[string]string

	// offered is the caller's stream descriptor on an incoming call.
	offered *models.StreamInfo

	mu     sync.Mutex
	closed bool
	remote *capture.Stream
	done   chan struct{}
	events chan session.CallEvent
}

func newCall(ident *Identity, peer, token string, metadata map[string]string) *Call {
	return &Call{
		ident:    ident,
		peer:     peer,
		token:    token,
		metadata: metadata,
		done:     make(chan struct{}),
		events:   make(chan session.CallEvent, eventBuffer),
	}
}

func (c *Call) Peer() string                     { return c.peer }
func (c *Call) Metadata() map[string]string      { return c.metadata }
func (c *Call) Events() <-chan session.CallEvent { return c.events }

func describe(stream session.MediaStream) *models.StreamInfo {
	if stream == nil {
		return nil
	}
	return &models.StreamInfo{ID: stream.ID(), Audio: stream.HasAudio()}
}

// Answer accepts an incoming call, sending stream back when it is not nil.
func (c *Call) Answer(stream session.MediaStream) error {
	payload, err := json.Marshal(models.CallAnswerPayload{Stream: describe(stream)})
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := c.ident.write(models.SignalMessage{
		Type:    models.SignalTypeCallAnswer,
		To:      c.peer,
		Token:   c.token,
		Payload: payload,
	}); err != nil {
		return err
	}

	if stream != nil {
		c.attachLocal(stream)
	}
	if c.offered != nil {
		c.answered(c.offered)
	}
	return nil
}

// attachLocal reports the end of the local track to the remote side.
func (c *Call) attachLocal(stream session.MediaStream) {
	ended := stream.Ended()
	if ended == nil {
		return
	}
	go func() {
		select {
		case <-ended:
			payload, _ := json.Marshal(models.TrackEndedPayload{StreamID: stream.ID()})
			c.ident.write(models.SignalMessage{
				Type:    models.SignalTypeTrackEnded,
				To:      c.peer,
				Token:   c.token,
				Payload: payload,
			})
		case <-c.done:
		}
	}()
}

// answered delivers the remote stream described by info, if any.
func (c *Call) answered(info *models.StreamInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || info == nil || c.remote != nil {
		return
	}
	c.remote = capture.Describe(info.ID, info.Audio)
	c.emitLocked(session.CallEvent{Kind: session.CallStream, Stream: c.remote})
}

func (c *Call) trackEnded() {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()
	if remote != nil {
		remote.Stop()
	}
}

// Close hangs up and tells the remote side.
func (c *Call) Close() {
	if !c.shut() {
		return
	}
	c.ident.dropCall(c.token)
	if err := c.ident.write(models.SignalMessage{Type: models.SignalTypeCallClose, To: c.peer, Token: c.token}); err != nil {
		c.ident.log.WithFields(logrus.Fields{
			"function": "Close",
			"token":    c.token,
			"error":    err.Error(),
		}).Debug("Could not notify remote of call close")
	}
}

func (c *Call) shut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.end()
	return true
}

// end releases the call. The caller holds c.mu.
func (c *Call) end() {
	c.closed = true
	close(c.done)
	close(c.events)
	if c.remote != nil {
		c.remote.Stop()
	}
}

func (c *Call) emitLocked(ev session.CallEvent) {
	select {
	case c.events <- ev:
	default:
		c.ident.log.WithFields(logrus.Fields{
			"function": "emit",
			"token":    c.token,
			"event":    ev.Kind,
		}).Warn("Dropping call event, buffer full")
	}
}

func (c *Call) remoteClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.emitLocked(session.CallEvent{Kind: session.CallClosed})
	c.end()
}

func (c *Call) failed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.emitLocked(session.CallEvent{Kind: session.CallFailed, Err: session.ParseErrorKind("call"), Message: reason})
	c.end()
}
