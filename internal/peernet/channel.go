package peernet

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/models"
	"github.com/mossy-p/screenshare/internal/session"
)

type channelState int

const (
	channelPending channelState = iota
	channelOpen
	channelClosed
)

// Channel is a control channel relayed through the signaling socket. Both
// ends know it by the token the dialing side generated.
type Channel struct {
	ident    *Identity
	peer     string
	token    string
	metadata map[string]string

	mu     sync.Mutex
	state  channelState
	events chan session.ChannelEvent
}

func newChannel(ident *Identity, peer, token string, metadata map[string]string) *Channel {
	return &Channel{
		ident:    ident,
		peer:     peer,
		token:    token,
		metadata: metadata,
		events:   make(chan session.ChannelEvent, eventBuffer),
	}
}

func (c *Channel) Peer() string                        { return c.peer }
func (c *Channel) Token() string                       { return c.token }
func (c *Channel) Metadata() map[string]string         { return c.metadata }
func (c *Channel) Events() <-chan session.ChannelEvent { return c.events }

// Open reports whether the remote end accepted the channel and it has not
// closed since.
func (c *Channel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == channelOpen
}

// Send relays payload to the remote end. Payloads must be JSON documents.
func (c *Channel) Send(payload []byte) error {
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}
	c.mu.Lock()
	open := c.state == channelOpen
	c.mu.Unlock()
	if !open {
		return ErrClosed
	}
	return c.ident.write(models.SignalMessage{
		Type:    models.SignalTypeChannelData,
		To:      c.peer,
		Token:   c.token,
		Payload: json.RawMessage(payload),
	})
}

// Close tells the remote end and releases the channel.
func (c *Channel) Close() {
	if !c.shut() {
		return
	}
	c.ident.dropChannel(c.token)
	if err := c.ident.write(models.SignalMessage{Type: models.SignalTypeChannelClose, To: c.peer, Token: c.token}); err != nil {
		c.ident.log.WithFields(logrus.Fields{
			"function": "Close",
			"token":    c.token,
			"error":    err.Error(),
		}).Debug("Could not notify remote of channel close")
	}
}

// shut moves the channel to closed and ends its event stream. It reports
// whether this call did the transition.
func (c *Channel) shut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == channelClosed {
		return false
	}
	c.state = channelClosed
	close(c.events)
	return true
}

// emitLocked queues ev. The caller holds c.mu and has checked the channel is
// not closed.
func (c *Channel) emitLocked(ev session.ChannelEvent) {
	select {
	case c.events <- ev:
	default:
		c.ident.log.WithFields(logrus.Fields{
			"function": "emit",
			"token":    c.token,
			"event":    ev.Kind,
		}).Warn("Dropping channel event, buffer full")
	}
}

func (c *Channel) markOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelPending {
		return
	}
	c.state = channelOpen
	c.emitLocked(session.ChannelEvent{Kind: session.ChannelOpened})
}

func (c *Channel) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelOpen {
		return
	}
	c.emitLocked(session.ChannelEvent{Kind: session.ChannelData, Data: payload})
}

func (c *Channel) remoteClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == channelClosed {
		return
	}
	c.emitLocked(session.ChannelEvent{Kind: session.ChannelClosed})
	c.state = channelClosed
	close(c.events)
}

// unreachable ends a pending channel whose target is not on the service. It
// reports whether the channel was still pending.
func (c *Channel) unreachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelPending {
		return false
	}
	c.state = channelClosed
	close(c.events)
	c.ident.dropChannel(c.token)
	return true
}
