package peernet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/models"
	"github.com/mossy-p/screenshare/internal/session"
)

// Identity is one registration with the rendezvous service and the socket
// attached under it. A lost socket is re-attached with the same id.
type Identity struct {
	net    *Network
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	events chan session.IdentityEvent

	mu       sync.Mutex
	id       string
	token    string
	conn     *websocket.Conn
	channels map[string]*Channel
	calls    map[string]*Call
	closed   bool

	writeMu sync.Mutex
}

func newIdentity(n *Network) *Identity {
	ctx, cancel := context.WithCancel(n.ctx)
	return &Identity{
		net:      n,
		ctx:      ctx,
		cancel:   cancel,
		log:      n.log,
		events:   make(chan session.IdentityEvent, eventBuffer),
		channels: make(map[string]*Channel),
		calls:    make(map[string]*Call),
	}
}

func (i *Identity) Events() <-chan session.IdentityEvent { return i.events }

// ID returns the issued peer id, empty until the first registration.
func (i *Identity) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *Identity) emit(ev session.IdentityEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.events <- ev:
	default:
		i.log.WithFields(logrus.Fields{
			"function": "emit",
			"event":    ev.Kind,
		}).Warn("Dropping identity event, buffer full")
	}
}

func (i *Identity) fail(wire string, err error) {
	i.emit(session.IdentityEvent{
		Kind:    session.IdentityError,
		Err:     session.ParseErrorKind(wire),
		Message: err.Error(),
	})
}

// run attaches the socket and reads from it until the identity is destroyed
// or reconnecting gives up.
func (i *Identity) run() {
	defer i.finish()

	for {
		conn, err := i.attachWithRetry()
		if err != nil {
			if i.ctx.Err() == nil {
				i.log.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Warn("Giving up on signaling service")
				i.emit(session.IdentityEvent{Kind: session.IdentityClosed})
			}
			return
		}

		i.emit(session.IdentityEvent{Kind: session.IdentityOpened, ID: i.ID()})
		i.readLoop(conn)

		i.mu.Lock()
		if i.conn == conn {
			i.conn = nil
		}
		i.mu.Unlock()
		conn.Close()

		if i.ctx.Err() != nil {
			return
		}
		i.emit(session.IdentityEvent{Kind: session.IdentityDisconnected})
	}
}

func (i *Identity) attachWithRetry() (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		c, err := i.attach()
		if err != nil {
			if i.ctx.Err() != nil {
				return backoff.Permanent(i.ctx.Err())
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				i.fail("server-error", perm.Err)
				return err
			}
			i.fail("network", err)
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(op, i.net.policy(i.ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// attach registers on first use, then opens the socket and waits for the
// service greeting.
func (i *Identity) attach() (*websocket.Conn, error) {
	i.mu.Lock()
	token := i.token
	i.mu.Unlock()

	if token == "" {
		reg, err := i.net.issue(i.ctx)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.id, i.token = reg.PeerID, reg.Token
		i.mu.Unlock()
		token = reg.Token
	}

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := i.net.opts.Dialer.DialContext(i.ctx, i.net.socketURL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound) {
			// The identity expired on the service side; retrying cannot help.
			return nil, backoff.Permanent(fmt.Errorf("signaling socket rejected: %s", resp.Status))
		}
		return nil, fmt.Errorf("dial signaling socket: %w", err)
	}

	var hello models.SignalMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != models.SignalTypeRegistered {
		conn.Close()
		return nil, errors.New("unexpected greeting from signaling service")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		conn.Close()
		return nil, backoff.Permanent(ErrDestroyed)
	}
	i.conn = conn
	return conn, nil
}

func (i *Identity) readLoop(conn *websocket.Conn) {
	for {
		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if i.ctx.Err() == nil {
				i.log.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Debug("Signaling socket lost")
			}
			return
		}
		i.dispatch(msg)
	}
}

func (i *Identity) dispatch(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeChannelOpen:
		i.acceptChannel(msg)

	case models.SignalTypeChannelAccept:
		if ch := i.channel(msg.Token); ch != nil {
			ch.markOpen()
		}

	case models.SignalTypeChannelData:
		if ch := i.channel(msg.Token); ch != nil {
			ch.deliver(msg.Payload)
		}

	case models.SignalTypeChannelClose:
		if ch := i.dropChannel(msg.Token); ch != nil {
			ch.remoteClosed()
		}

	case models.SignalTypeCallOffer:
		i.acceptCall(msg)

	case models.SignalTypeCallAnswer:
		if call := i.call(msg.Token); call != nil {
			var answer models.CallAnswerPayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &answer); err != nil {
					i.dropCall(msg.Token)
					call.failed("negotiation-failed")
					return
				}
			}
			call.answered(answer.Stream)
		}

	case models.SignalTypeCallClose:
		if call := i.dropCall(msg.Token); call != nil {
			call.remoteClosed()
		}

	case models.SignalTypeTrackEnded:
		if call := i.call(msg.Token); call != nil {
			call.trackEnded()
		}

	case models.SignalTypeError:
		i.serviceError(msg)

	default:
		i.log.WithFields(logrus.Fields{
			"function": "dispatch",
			"type":     msg.Type,
		}).Debug("Ignoring unknown message")
	}
}

// serviceError applies an error the service returned for one of our
// messages. Errors about handles already gone are dropped.
func (i *Identity) serviceError(msg models.SignalMessage) {
	if msg.Error != models.ErrorPeerUnavailable {
		i.log.WithFields(logrus.Fields{
			"function": "serviceError",
			"error":    msg.Error,
			"token":    msg.Token,
		}).Warn("Signaling service rejected message")
		return
	}

	if ch := i.channel(msg.Token); ch != nil {
		if ch.unreachable() {
			i.emit(session.IdentityEvent{
				Kind:    session.IdentityError,
				Err:     session.KindPeerUnreachable,
				Peer:    msg.To,
				Message: fmt.Sprintf("Could not connect to peer %s", msg.To),
			})
		} else if open := i.dropChannel(msg.Token); open != nil {
			// The remote socket went away under an open channel.
			open.remoteClosed()
		}
		return
	}
	if call := i.dropCall(msg.Token); call != nil {
		call.failed(models.ErrorPeerUnavailable)
	}
}

func (i *Identity) acceptChannel(msg models.SignalMessage) {
	if msg.From == "" || msg.Token == "" {
		return
	}
	var opts models.ChannelOpenPayload
	if len(msg.Payload) > 0 {
		json.Unmarshal(msg.Payload, &opts)
	}

	ch := newChannel(i, msg.From, msg.Token, opts.Metadata)
	if !i.track(ch) {
		return
	}
	if err := i.write(models.SignalMessage{Type: models.SignalTypeChannelAccept, To: msg.From, Token: msg.Token}); err != nil {
		i.dropChannel(msg.Token)
		return
	}
	ch.markOpen()
	i.emit(session.IdentityEvent{Kind: session.IdentityIncomingChannel, Peer: msg.From, Channel: ch})
}

func (i *Identity) acceptCall(msg models.SignalMessage) {
	if msg.From == "" || msg.Token == "" {
		return
	}
	var offer models.CallOfferPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &offer); err != nil {
			return
		}
	}

	call := newCall(i, msg.From, msg.Token, offer.Metadata)
	call.offered = offer.Stream

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.calls[call.token] = call
	i.mu.Unlock()

	i.emit(session.IdentityEvent{Kind: session.IdentityIncomingCall, Peer: msg.From, Call: call})
}

// Dial opens a control channel to peerID. The channel reports open once the
// remote side accepts it.
func (i *Identity) Dial(peerID string, opts session.DialOptions) (session.Channel, error) {
	payload, err := json.Marshal(models.ChannelOpenPayload{
		Reliable:      opts.Reliable,
		Serialization: opts.Serialization,
		Metadata:      opts.Metadata,
	})
	if err != nil {
		return nil, err
	}

	ch := newChannel(i, peerID, uuid.New().String(), opts.Metadata)
	if !i.track(ch) {
		return nil, ErrDestroyed
	}
	if err := i.write(models.SignalMessage{
		Type:    models.SignalTypeChannelOpen,
		To:      peerID,
		Token:   ch.token,
		Payload: payload,
	}); err != nil {
		i.dropChannel(ch.token)
		return nil, err
	}

	i.log.WithFields(logrus.Fields{
		"function": "Dial",
		"peer":     peerID,
		"token":    ch.token,
	}).Debug("Channel requested")
	return ch, nil
}

// Call offers stream to peerID.
func (i *Identity) Call(peerID string, stream session.MediaStream, opts session.CallOptions) (session.Call, error) {
	if stream == nil {
		return nil, session.ErrNoStream
	}
	payload, err := json.Marshal(models.CallOfferPayload{
		Stream:   describe(stream),
		Metadata: opts.Metadata,
	})
	if err != nil {
		return nil, err
	}

	call := newCall(i, peerID, uuid.New().String(), opts.Metadata)
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, ErrDestroyed
	}
	i.calls[call.token] = call
	i.mu.Unlock()

	if err := i.write(models.SignalMessage{
		Type:    models.SignalTypeCallOffer,
		To:      peerID,
		Token:   call.token,
		Payload: payload,
	}); err != nil {
		i.dropCall(call.token)
		return nil, err
	}
	call.attachLocal(stream)
	return call, nil
}

// Destroy closes every channel and call, detaches from the service and stops
// reconnecting. It is safe to call more than once.
func (i *Identity) Destroy() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	channels := make([]*Channel, 0, len(i.channels))
	for _, ch := range i.channels {
		channels = append(channels, ch)
	}
	calls := make([]*Call, 0, len(i.calls))
	for _, call := range i.calls {
		calls = append(calls, call)
	}
	i.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	for _, call := range calls {
		call.Close()
	}

	i.mu.Lock()
	i.closed = true
	close(i.events)
	conn := i.conn
	i.conn = nil
	i.mu.Unlock()

	i.cancel()
	if conn != nil {
		i.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		i.writeMu.Unlock()
		conn.Close()
	}
}

// finish runs when the read goroutine exits.
func (i *Identity) finish() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn != nil {
		i.conn.Close()
		i.conn = nil
	}
}

// write sends one message on the socket.
func (i *Identity) write(msg models.SignalMessage) error {
	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (i *Identity) track(ch *Channel) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return false
	}
	i.channels[ch.token] = ch
	return true
}

func (i *Identity) channel(token string) *Channel {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.channels[token]
}

func (i *Identity) dropChannel(token string) *Channel {
	i.mu.Lock()
	defer i.mu.Unlock()
	ch := i.channels[token]
	delete(i.channels, token)
	return ch
}

func (i *Identity) call(token string) *Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[token]
}

func (i *Identity) dropCall(token string) *Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	call := i.calls[token]
	delete(i.calls, token)
	return call
}
