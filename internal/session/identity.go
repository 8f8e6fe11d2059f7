package session

// identityManager owns the local identity object issued by the signaling
// service. A transport-level disconnect keeps the object alive and leaves
// recovery to the library; only a close or an explicit reconnect discards it.
type identityManager struct {
	network Network
	current Identity
	gen     uint64
	id      string
	ready   bool

	// unavailableNotified suppresses repeated alerts within one episode of
	// signaling unreachability. It is re-armed by a successful open.
	unavailableNotified bool
}

func newIdentityManager(network Network) *identityManager {
	return &identityManager{network: network}
}

// start requests a fresh identity. The returned object is tracked under gen.
func (m *identityManager) start(gen uint64) Identity {
	m.current = m.network.Register()
	m.gen = gen
	m.id = ""
	m.ready = false
	return m.current
}

// owns reports whether gen is the identity currently tracked.
func (m *identityManager) owns(gen uint64) bool {
	return m.current != nil && m.gen == gen
}

func (m *identityManager) opened(id string) {
	m.id = id
	m.ready = true
	m.unavailableNotified = false
}

func (m *identityManager) disconnected() {
	m.ready = false
}

// closed drops the dead identity object. Its id stays visible until the next
// reconnect so the user can still read it.
func (m *identityManager) closed() {
	if m.current != nil {
		m.current.Destroy()
	}
	m.ready = false
	m.current = nil
	m.gen = 0
}

// destroy tears the identity object down entirely.
func (m *identityManager) destroy() {
	if m.current != nil {
		m.current.Destroy()
	}
	m.current = nil
	m.gen = 0
	m.id = ""
	m.ready = false
}

// notifyUnavailable reports whether a blocking notice should be shown for
// this unreachability episode, and consumes it.
func (m *identityManager) notifyUnavailable() bool {
	if m.unavailableNotified {
		return false
	}
	m.unavailableNotified = true
	return true
}
