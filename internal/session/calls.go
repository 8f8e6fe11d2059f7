package session

// CallState is the lifecycle state of a media call.
type CallState int

const (
	CallPending CallState = iota
	CallActive
	CallClosedState
	CallErrored
)

func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallActive:
		return "active"
	case CallClosedState:
		return "closed"
	case CallErrored:
		return "errored"
	}
	return "unknown"
}

var callTransitions = map[CallState][]CallState{
	CallPending:     {CallActive, CallClosedState, CallErrored},
	CallActive:      {CallClosedState, CallErrored},
	CallClosedState: nil,
	CallErrored:     nil,
}

func (s CallState) canTransition(to CallState) bool {
	for _, next := range callTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// terminal reports whether no further stream delivery is expected.
func (s CallState) terminal() bool {
	return s == CallClosedState || s == CallErrored
}

// MediaCall is the tracked state of one media call.
type MediaCall struct {
	gen       uint64
	handle    Call
	direction Direction
	remote    string
	state     CallState
}

func newMediaCall(gen uint64, handle Call, dir Direction) *MediaCall {
	return &MediaCall{gen: gen, handle: handle, direction: dir, remote: handle.Peer(), state: CallPending}
}

func (c *MediaCall) Remote() string       { return c.remote }
func (c *MediaCall) Direction() Direction { return c.direction }
func (c *MediaCall) State() CallState     { return c.state }

func (c *MediaCall) transition(to CallState) bool {
	if !c.state.canTransition(to) {
		return false
	}
	c.state = to
	return true
}

func (c *MediaCall) shut() {
	if c.transition(CallClosedState) {
		c.handle.Close()
	}
}

// callManager owns one outgoing and one incoming call slot. The two slots are
// independent of each other.
type callManager struct {
	outgoing *MediaCall
	incoming *MediaCall
}

// admit applies the trust policy to an incoming call: it is accepted only
// while a channel to the caller is open. A rejected call is closed and leaves
// every slot untouched.
func (m *callManager) admit(call *MediaCall, channels *channelManager, local MediaStream) error {
	if !channels.openWith(call.remote) {
		call.shut()
		return &Error{Kind: KindCallRejectedUntrusted, Peer: call.remote, Err: ErrCallUntrusted}
	}

	m.closeIncoming()
	if err := call.handle.Answer(local); err != nil {
		call.shut()
		return &Error{Kind: KindCallTransportError, Peer: call.remote, Err: err}
	}
	m.incoming = call
	return nil
}

// place starts an outgoing call carrying stream to remote, replacing any
// previous outgoing call.
func (m *callManager) place(identity Identity, channels *channelManager, remote string, stream MediaStream, gen uint64) (*MediaCall, error) {
	if identity == nil || !channels.openWith(remote) {
		return nil, &Error{Kind: KindCallTransportError, Peer: remote, Err: ErrNoChannel}
	}
	if stream == nil {
		return nil, ErrNoStream
	}

	m.closeOutgoing()
	handle, err := identity.Call(remote, stream, CallOptions{
		Metadata: map[string]string{"kind": "screen-share"},
	})
	if err != nil {
		return nil, &Error{Kind: KindCallTransportError, Peer: remote, Err: err}
	}
	call := newMediaCall(gen, handle, Outgoing)
	m.outgoing = call
	return call, nil
}

// lookup returns the tracked call for gen, or nil when gen is stale.
func (m *callManager) lookup(gen uint64) *MediaCall {
	switch {
	case m.outgoing != nil && m.outgoing.gen == gen:
		return m.outgoing
	case m.incoming != nil && m.incoming.gen == gen:
		return m.incoming
	}
	return nil
}

// finish moves the call tracked under gen to a terminal state and empties its
// slot. The library has already torn the call down so the handle is left alone.
func (m *callManager) finish(gen uint64, to CallState) *MediaCall {
	call := m.lookup(gen)
	if call == nil {
		return nil
	}
	call.transition(to)
	if call == m.outgoing {
		m.outgoing = nil
	} else {
		m.incoming = nil
	}
	return call
}

func (m *callManager) closeOutgoing() {
	if m.outgoing == nil {
		return
	}
	call := m.outgoing
	m.outgoing = nil
	call.shut()
}

func (m *callManager) closeIncoming() {
	if m.incoming == nil {
		return
	}
	call := m.incoming
	m.incoming = nil
	call.shut()
}

func (m *callManager) closeAll() {
	m.closeIncoming()
	m.closeOutgoing()
}

func (m *callManager) any() bool {
	return m.outgoing != nil || m.incoming != nil
}
