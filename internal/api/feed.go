// Package api exposes a running session to a local UI: HTTP actions and a
// WebSocket feed of state snapshots, notices and window intents.
package api

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/session"
)

// EnvelopeType tags a feed message.
type EnvelopeType string

const (
	EnvelopeState    EnvelopeType = "state"
	EnvelopeNotice   EnvelopeType = "notice"
	EnvelopeMinimize EnvelopeType = "minimize"
	EnvelopeRestore  EnvelopeType = "restore"
)

// Envelope is one message on the event feed.
type Envelope struct {
	Type   EnvelopeType      `json:"type"`
	State  *session.Snapshot `json:"state,omitempty"`
	Notice *session.Notice   `json:"notice,omitempty"`
}

const subscriberBuffer = 32

// Feed implements session.Presenter by fanning every call out to the
// subscribed UI connections.
type Feed struct {
	mu     sync.Mutex
	latest session.Snapshot
	subs   map[chan Envelope]struct{}
	log    *logrus.Entry
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[chan Envelope]struct{}),
		log:  logrus.WithField("component", "api"),
	}
}

// Latest returns the most recent snapshot.
func (f *Feed) Latest() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Subscribe registers a listener. The current state is delivered first.
func (f *Feed) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, subscriberBuffer)

	f.mu.Lock()
	snap := f.latest
	ch <- Envelope{Type: EnvelopeState, State: &snap}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (f *Feed) Render(s session.Snapshot) {
	f.mu.Lock()
	f.latest = s
	f.mu.Unlock()
	f.publish(Envelope{Type: EnvelopeState, State: &s})
}

func (f *Feed) Notify(n session.Notice) {
	f.publish(Envelope{Type: EnvelopeNotice, Notice: &n})
}

func (f *Feed) RequestMinimize() { f.publish(Envelope{Type: EnvelopeMinimize}) }
func (f *Feed) RequestRestore()  { f.publish(Envelope{Type: EnvelopeRestore}) }

// publish never blocks the session loop; slow subscribers lose messages.
func (f *Feed) publish(env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- env:
		default:
			f.log.WithFields(logrus.Fields{
				"function": "publish",
				"type":     env.Type,
			}).Warn("Dropping feed message for slow subscriber")
		}
	}
}
