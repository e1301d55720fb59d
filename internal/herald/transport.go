package herald

import "sync"

// Transport is the contract every pluggable transport implements (§4.4).
// A transport registers itself under one access_id with a Multiplexer;
// the core never assumes a successful Fire means the message was
// delivered, only that the transport accepted it for best-effort
// delivery.
type Transport interface {
	// AccessID is the access_id this transport serves, e.g. "mqtt".
	AccessID() string

	// Fire sends message to peer on this transport. extra, when non-nil,
	// is transport-specific context returned by a prior MessageReceived
	// (used so Engine.Reply can answer on the same connection/topic the
	// original arrived on). Fire returns *InvalidPeerAccess when peer has
	// no usable descriptor for this transport.
	Fire(peer *Peer, message *Message, extra any) error

	// FireGroup fans message out to peers and returns the subset it
	// claims to have reached. The caller (Engine) uses the returned set
	// for the coverage bookkeeping described in §4.3.
	FireGroup(group string, peers []*Peer, message *Message) (reached []*Peer, err error)
}

// Multiplexer selects a transport per peer access and fans group sends
// out across every access a group's members advertise (§4.4). The core's
// public controller activates only while at least one transport is
// bound, and deactivates when the last unbinds.
type Multiplexer struct {
	mu         sync.RWMutex
	transports map[string]Transport
	onActivate func()
	onIdle     func()
}

// NewMultiplexer creates an empty multiplexer. onActivate/onIdle (either
// may be nil) are invoked when the bound-transport count transitions
// from zero to one, and back to zero.
func NewMultiplexer(onActivate, onIdle func()) *Multiplexer {
	return &Multiplexer{
		transports: make(map[string]Transport),
		onActivate: onActivate,
		onIdle:     onIdle,
	}
}

// Bind registers t under its AccessID.
func (m *Multiplexer) Bind(t Transport) {
	m.mu.Lock()
	wasEmpty := len(m.transports) == 0
	m.transports[t.AccessID()] = t
	m.mu.Unlock()
	if wasEmpty && m.onActivate != nil {
		m.onActivate()
	}
}

// Unbind removes the transport registered under accessID.
func (m *Multiplexer) Unbind(accessID string) {
	m.mu.Lock()
	delete(m.transports, accessID)
	nowEmpty := len(m.transports) == 0
	m.mu.Unlock()
	if nowEmpty && m.onIdle != nil {
		m.onIdle()
	}
}

// Get returns the transport bound for accessID.
func (m *Multiplexer) Get(accessID string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[accessID]
	return t, ok
}

// Bound reports whether at least one transport is currently bound.
func (m *Multiplexer) Bound() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transports) > 0
}

// UnbindAll removes every bound transport and returns them, so a caller
// (Engine.Shutdown) can close each in turn.
func (m *Multiplexer) UnbindAll() []Transport {
	m.mu.Lock()
	out := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		out = append(out, t)
	}
	m.transports = make(map[string]Transport)
	hadTransports := len(out) > 0
	m.mu.Unlock()
	if hadTransports && m.onIdle != nil {
		m.onIdle()
	}
	return out
}
