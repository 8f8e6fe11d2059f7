package capture

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/session"
)

// Selection is what the user picks in the source picker.
type Selection struct {
	// Canceled models the user dismissing the picker.
	Canceled bool
	// Audio models the "share system audio" checkbox.
	Audio bool
	// Unavailable models a host with no capturable display.
	Unavailable bool
}

// Picker asks the user which source to share. It blocks until a choice is made
// or ctx is done.
type Picker interface {
	Pick(ctx context.Context, c session.Constraints) (Selection, error)
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(ctx context.Context, c session.Constraints) (Selection, error)

func (f PickerFunc) Pick(ctx context.Context, c session.Constraints) (Selection, error) {
	return f(ctx, c)
}

// AutoPicker picks the primary display immediately, with audio when the
// constraints ask for it.
func AutoPicker() Picker {
	return PickerFunc(func(_ context.Context, c session.Constraints) (Selection, error) {
		return Selection{Audio: c.SystemAudio}, nil
	})
}

// Provider produces synthetic display streams. It implements
// session.CaptureProvider for hosts without a native capture backend and for
// the headless client.
type Provider struct {
	picker   Picker
	lifetime time.Duration
	log      *logrus.Entry
}

// Option configures a Provider.
type Option func(*Provider)

// WithLifetime makes every stream end on its own after d, as when the user
// stops sharing from the system tray.
func WithLifetime(d time.Duration) Option {
	return func(p *Provider) { p.lifetime = d }
}

// WithLogger sets the provider's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider returns a provider that consults picker for every request.
func NewProvider(picker Picker, opts ...Option) *Provider {
	if picker == nil {
		picker = AutoPicker()
	}
	p := &Provider{
		picker: picker,
		log:    logrus.WithField("component", "capture"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire asks the picker for a source and returns a live stream for it.
func (p *Provider) Acquire(ctx context.Context, c session.Constraints) (session.MediaStream, error) {
	sel, err := p.picker.Pick(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case sel.Canceled:
		return nil, session.ErrPermissionDenied
	case sel.Unavailable:
		return nil, session.ErrNoSourceFound
	}

	stream := NewStream(sel.Audio)
	p.log.WithFields(logrus.Fields{
		"function":   "Acquire",
		"stream":     stream.ID(),
		"audio":      sel.Audio,
		"frame_rate": c.FrameRateIdeal,
	}).Info("Capture started")

	if p.lifetime > 0 {
		time.AfterFunc(p.lifetime, stream.Stop)
	}
	return stream, nil
}
