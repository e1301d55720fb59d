package herald

import (
	"encoding/json"
	"sync"
)

// DirectorySink is the capability a Peer calls back into when one of its
// accesses is mutated. It plays the role the teacher's SSE listener
// channels play for state.PeerTable, but as a narrow interface instead of
// a channel so a Peer never needs to know who is listening.
//
// Both methods are optional in spirit: embed DirectorySinkBase to get a
// no-op implementation of whichever method a caller doesn't care about,
// instead of relying on reflective "does it have this attribute" lookups
// the way the source implementation did.
type DirectorySink interface {
	PeerAccessSet(peer *Peer, accessID string, data any)
	PeerAccessUnset(peer *Peer, accessID string)
}

// DirectorySinkBase is embedded by sinks that only care about one of the
// two callbacks.
type DirectorySinkBase struct{}

func (DirectorySinkBase) PeerAccessSet(*Peer, string, any) {}
func (DirectorySinkBase) PeerAccessUnset(*Peer, string)    {}

// Peer is a known participant in the messaging substrate, identified by
// its UID; a Directory holds one *Peer per UID. Peer defines no equality
// or ordering method of its own.
type Peer struct {
	uid      string
	name     string
	nodeUID  string
	nodeName string

	// groups is immutable after the peer's first registration — nothing
	// in this package ever lets a peer join or leave a group afterward.
	groups []string

	mu          sync.RWMutex
	accesses    map[string]any // access_id -> opaque descriptor
	accessOrder []string       // insertion order, iterated by fire() (§4.3)
	sink        DirectorySink
}

// NewPeer constructs a peer. nodeUID/nodeName default to uid/name when
// empty, matching the source's "defaults mirror uid" rule.
func NewPeer(uid, name, nodeUID, nodeName string, groups []string, sink DirectorySink) *Peer {
	if nodeUID == "" {
		nodeUID = uid
	}
	if nodeName == "" {
		nodeName = name
	}
	gs := make([]string, len(groups))
	copy(gs, groups)
	return &Peer{
		uid:      uid,
		name:     name,
		nodeUID:  nodeUID,
		nodeName: nodeName,
		groups:   gs,
		accesses: make(map[string]any),
		sink:     sink,
	}
}

func (p *Peer) UID() string      { return p.uid }
func (p *Peer) Name() string     { return p.name }
func (p *Peer) NodeUID() string  { return p.nodeUID }
func (p *Peer) NodeName() string { return p.nodeName }

// Groups returns a copy of the peer's group memberships.
func (p *Peer) Groups() []string {
	out := make([]string, len(p.groups))
	copy(out, p.groups)
	return out
}

// InGroup reports whether the peer belongs to group.
func (p *Peer) InGroup(group string) bool {
	for _, g := range p.groups {
		if g == group {
			return true
		}
	}
	return false
}

// AccessIDs returns the peer's access ids in insertion order — fire()
// iterates accesses in this order (§4.3).
func (p *Peer) AccessIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.accesses))
	for _, id := range p.accessOrder {
		ids = append(ids, id)
	}
	return ids
}

// Access returns the opaque descriptor stored for accessID.
func (p *Peer) Access(accessID string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.accesses[accessID]
	return d, ok
}

// SetAccess stores (or replaces) the descriptor for accessID and notifies
// the directory sink, matching "mutation of an access fires
// peer_set_access ... on that sink" (§3).
func (p *Peer) SetAccess(accessID string, data any) {
	p.mu.Lock()
	if _, exists := p.accesses[accessID]; !exists {
		p.accessOrder = append(p.accessOrder, accessID)
	}
	p.accesses[accessID] = data
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.PeerAccessSet(p, accessID, data)
	}
}

// UnsetAccess removes the descriptor for accessID and notifies the sink.
func (p *Peer) UnsetAccess(accessID string) {
	p.mu.Lock()
	_, existed := p.accesses[accessID]
	delete(p.accesses, accessID)
	if existed {
		for i, id := range p.accessOrder {
			if id == accessID {
				p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
				break
			}
		}
	}
	sink := p.sink
	p.mu.Unlock()
	if existed && sink != nil {
		sink.PeerAccessUnset(p, accessID)
	}
}

// Dump returns the canonical serialized form used for directory exchange
// (§6). The source's Peer.dump() builds this as a set rather than a
// mapping and then assigns it to "accesses" — a bug we deliberately do
// not reproduce (§9); here accesses really is a map.
func (p *Peer) Dump() PeerDump {
	p.mu.RLock()
	defer p.mu.RUnlock()
	accesses := make(map[string]any, len(p.accesses))
	for k, v := range p.accesses {
		accesses[k] = v
	}
	return PeerDump{
		UID:      p.uid,
		Name:     p.name,
		NodeUID:  p.nodeUID,
		NodeName: p.nodeName,
		Groups:   p.Groups(),
		Accesses: accesses,
	}
}

// PeerDump is the wire/JSON form of a Peer (§6).
type PeerDump struct {
	UID      string         `json:"uid"`
	Name     string         `json:"name"`
	NodeUID  string         `json:"node_uid"`
	NodeName string         `json:"node_name"`
	Groups   []string       `json:"groups"`
	Accesses map[string]any `json:"accesses"`
}

// AsPeerDump coerces content (typically a PeerDump built in-process, or a
// map[string]any produced by decoding a JSON envelope) into a PeerDump.
func AsPeerDump(content any) (PeerDump, bool) {
	switch v := content.(type) {
	case PeerDump:
		return v, true
	case *PeerDump:
		return *v, true
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return PeerDump{}, false
		}
		var dump PeerDump
		if err := json.Unmarshal(b, &dump); err != nil {
			return PeerDump{}, false
		}
		return dump, true
	default:
		return PeerDump{}, false
	}
}
