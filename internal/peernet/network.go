// Package peernet connects a client to the rendezvous service. It issues the
// local identity, relays control channels over the signaling socket and
// negotiates media calls, exposing all of it through the session package's
// network interfaces.
package peernet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/models"
	"github.com/mossy-p/screenshare/internal/session"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("signaling socket not connected")
	ErrDestroyed      = errors.New("identity destroyed")
	ErrClosed         = errors.New("closed")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// Options configures a Network.
type Options struct {
	// SignalURL is the base URL of the rendezvous service.
	SignalURL string
	// ReconnectAttempts bounds retries after the signaling socket is lost.
	ReconnectAttempts int
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	Logger            *logrus.Entry
	// Backoff builds the retry schedule. Defaults to exponential backoff.
	Backoff func() backoff.BackOff
}

// Network issues identities from one rendezvous service.
type Network struct {
	ctx  context.Context
	base *url.URL
	opts Options
	log  *logrus.Entry
}

// New validates opts. Identities registered from the network live until
// destroyed or until ctx is done.
func New(ctx context.Context, opts Options) (*Network, error) {
	base, err := url.Parse(strings.TrimRight(opts.SignalURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid signal url %q: scheme must be http or https", opts.SignalURL)
	}

	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "peernet")
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		}
	}

	return &Network{ctx: ctx, base: base, opts: opts, log: opts.Logger}, nil
}

// Register starts a new identity. Its outcome is reported on Events.
func (n *Network) Register() session.Identity {
	return n.register()
}

func (n *Network) register() *Identity {
	ident := newIdentity(n)
	go ident.run()
	return ident
}

// issue asks the service for a fresh peer id and token.
func (n *Network) issue(ctx context.Context) (models.RegisterResponse, error) {
	var reg models.RegisterResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.base.String()+"/api/peers", bytes.NewReader(nil))
	if err != nil {
		return reg, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.opts.HTTPClient.Do(req)
	if err != nil {
		return reg, fmt.Errorf("register peer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return reg, fmt.Errorf("register peer: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return reg, fmt.Errorf("register peer: %w", err)
	}
	if reg.PeerID == "" || reg.Token == "" {
		return reg, errors.New("register peer: empty identity")
	}
	return reg, nil
}

// socketURL derives the signaling socket address from the base URL.
func (n *Network) socketURL() string {
	u := *n.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal"
	return u.String()
}

// policy returns the retry schedule for one connect episode: the initial
// attempt plus up to ReconnectAttempts retries.
func (n *Network) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(n.opts.Backoff(), uint64(n.opts.ReconnectAttempts)), ctx)
}
