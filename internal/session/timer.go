package session

import "time"

// Clock abstracts wall time so timeouts can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// scopedTimer is armed for exactly one channel generation. Disarm is safe to
// call on every exit path; a callback that was already in flight carries the
// generation it was armed for and is discarded by the receiver.
type scopedTimer struct {
	clock Clock
	timer Timer
	gen   uint64
}

func (s *scopedTimer) arm(gen uint64, d time.Duration, fire func(gen uint64)) {
	s.disarm()
	s.gen = gen
	s.timer = s.clock.AfterFunc(d, func() { fire(gen) })
}

func (s *scopedTimer) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen = 0
}

func (s *scopedTimer) armedFor(gen uint64) bool {
	return s.timer != nil && s.gen == gen
}
