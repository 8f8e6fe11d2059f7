package session

import "time"

// Direction tells which side initiated a channel or call.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// ChannelState is the lifecycle state of a control channel.
type ChannelState int

const (
	ChannelDialing ChannelState = iota
	ChannelOpen
	ChannelClosedState
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDialing:
		return "dialing"
	case ChannelOpen:
		return "open"
	case ChannelClosedState:
		return "closed"
	}
	return "unknown"
}

// channelTransitions is the complete set of legal channel state changes.
var channelTransitions = map[ChannelState][]ChannelState{
	ChannelDialing:     {ChannelOpen, ChannelClosedState},
	ChannelOpen:        {ChannelClosedState},
	ChannelClosedState: nil,
}

func (s ChannelState) canTransition(to ChannelState) bool {
	for _, next := range channelTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ControlChannel is the tracked state of one control connection.
type ControlChannel struct {
	gen       uint64
	handle    Channel
	remote    string
	token     string
	direction Direction
	state     ChannelState
}

func newControlChannel(gen uint64, handle Channel, dir Direction) *ControlChannel {
	state := ChannelDialing
	if handle.Open() {
		state = ChannelOpen
	}
	return &ControlChannel{
		gen:       gen,
		handle:    handle,
		remote:    handle.Peer(),
		token:     handle.Token(),
		direction: dir,
		state:     state,
	}
}

func (c *ControlChannel) Remote() string       { return c.remote }
func (c *ControlChannel) Token() string        { return c.token }
func (c *ControlChannel) Direction() Direction { return c.direction }
func (c *ControlChannel) State() ChannelState  { return c.state }
func (c *ControlChannel) open() bool           { return c.state == ChannelOpen }

func (c *ControlChannel) transition(to ChannelState) bool {
	if !c.state.canTransition(to) {
		return false
	}
	c.state = to
	return true
}

// shut closes the underlying handle once.
func (c *ControlChannel) shut() {
	if c.transition(ChannelClosedState) {
		c.handle.Close()
	}
}

// keepCurrent decides which of two channels survives. Both peers evaluate it
// over the same pair of connections and reach the same answer without
// exchanging anything.
func keepCurrent(current, candidate *ControlChannel, localID string) bool {
	if current.remote != candidate.remote {
		// An open channel is never displaced by a different peer; between two
		// pending ones the newcomer replaces the old attempt.
		return current.open()
	}

	// Two dials crossing each other are settled only by values both ends
	// share. Open state is not one of them: each end accepts the other's dial
	// before it hears back about its own.
	mutual := current.direction != candidate.direction
	if !mutual && current.open() != candidate.open() {
		return current.open()
	}

	if current.token != "" && candidate.token != "" && current.token != candidate.token {
		return current.token < candidate.token
	}

	if mutual {
		// The side whose id sorts lower is the initiator.
		keepOutgoing := true
		if localID != "" && current.remote != "" {
			keepOutgoing = localID < current.remote
		}
		if current.direction == Outgoing {
			return keepOutgoing
		}
		return !keepOutgoing
	}

	return true
}

// channelManager owns the single current control channel slot and its dial
// timeout.
type channelManager struct {
	current *ControlChannel
	timer   scopedTimer
	timeout time.Duration
}

func newChannelManager(clock Clock, timeout time.Duration) *channelManager {
	return &channelManager{
		timer:   scopedTimer{clock: clock},
		timeout: timeout,
	}
}

// checkDial validates a user dial request against the current slot.
func (m *channelManager) checkDial(localID string, ready bool, remote string) error {
	if !ready {
		return ErrIdentityNotReady
	}
	if remote == "" {
		return ErrEmptyPeerID
	}
	if remote == localID {
		return ErrSelfDial
	}
	if cur := m.current; cur != nil && cur.remote == remote {
		if cur.open() {
			return ErrAlreadyOpen
		}
		return ErrAlreadyDialing
	}
	return nil
}

// install applies arbitration between the current slot and candidate. When
// the candidate wins it becomes current and the previous channel, if any, is
// closed and returned. A candidate that is not open yet gets a fresh dial
// timeout.
func (m *channelManager) install(candidate *ControlChannel, localID string, fire func(gen uint64)) (bool, *ControlChannel) {
	cur := m.current
	if cur != nil {
		if keepCurrent(cur, candidate, localID) {
			candidate.shut()
			return false, nil
		}
		m.timer.disarm()
		cur.shut()
	}

	m.current = candidate
	if !candidate.open() {
		m.timer.arm(candidate.gen, m.timeout, fire)
	}
	return true, cur
}

func (m *channelManager) isCurrent(gen uint64) bool {
	return m.current != nil && m.current.gen == gen
}

// opened marks the current channel open and cancels its dial timeout.
func (m *channelManager) opened(gen uint64) bool {
	if !m.isCurrent(gen) {
		return false
	}
	m.timer.disarm()
	return m.current.transition(ChannelOpen)
}

// openWith reports whether the current channel is open to peer.
func (m *channelManager) openWith(peer string) bool {
	return m.current != nil && m.current.open() && m.current.remote == peer
}

// isOpen reports whether any current channel is open.
func (m *channelManager) isOpen() bool {
	return m.current != nil && m.current.open()
}

// release clears the slot without touching the handle, for channels the
// library already reported closed.
func (m *channelManager) release() *ControlChannel {
	cur := m.current
	m.timer.disarm()
	m.current = nil
	if cur != nil {
		cur.transition(ChannelClosedState)
	}
	return cur
}

// close shuts the current channel and clears the slot.
func (m *channelManager) close() *ControlChannel {
	cur := m.current
	m.timer.disarm()
	m.current = nil
	if cur != nil {
		cur.shut()
	}
	return cur
}

// expire handles a dial timeout firing for gen. It returns the channel that
// was force-closed, or nil when the timeout is stale.
func (m *channelManager) expire(gen uint64) *ControlChannel {
	if !m.isCurrent(gen) || m.current.open() {
		return nil
	}
	return m.close()
}
