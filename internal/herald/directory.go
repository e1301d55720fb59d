package herald

import "sync"

// AccessDirectory is the companion a transport registers so the core
// Directory can materialize a peer's opaque access payload into whatever
// type that transport understands (§4.1, §4.4). It plays the same role
// the teacher's state.PeerTable plays for presence, generalized to be
// per-transport instead of baked into one struct.
type AccessDirectory interface {
	// LoadAccess turns the raw (typically JSON-decoded) descriptor from a
	// peer dump into the transport's own access type.
	LoadAccess(data any) (any, error)
}

// Directory is the thread-safe registry of known peers, looked up by UID
// or by group (§4.1); it offers no lookup by node. Concurrent reads never
// block each other; writers serialize
// on a single lock, the way state.PeerTable in the teacher protects its
// map with one sync.Mutex.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	local *Peer

	accessDirs map[string]AccessDirectory // access_id -> transport directory
}

// NewDirectory creates a directory seeded with the local peer.
func NewDirectory(local *Peer) *Directory {
	d := &Directory{
		peers:      make(map[string]*Peer),
		local:      local,
		accessDirs: make(map[string]AccessDirectory),
	}
	d.peers[local.UID()] = local
	return d
}

// GetLocalPeer returns the peer representing this process.
func (d *Directory) GetLocalPeer() *Peer { return d.local }

// BindAccessDirectory registers a transport's access directory under
// accessID. Subsequent Register calls materialize any matching access in
// a peer dump through it.
func (d *Directory) BindAccessDirectory(accessID string, dir AccessDirectory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accessDirs[accessID] = dir
}

// UnbindAccessDirectory removes a transport's access directory.
func (d *Directory) UnbindAccessDirectory(accessID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accessDirs, accessID)
}

// Register materializes a dumped peer into the directory. For every
// access in the dump whose access_id has a bound AccessDirectory, the
// descriptor is loaded through it and set on the peer, firing
// PeerAccessSet on the peer's sink (§4.1).
func (d *Directory) Register(dump PeerDump, sink DirectorySink) (*Peer, error) {
	d.mu.Lock()
	existing, ok := d.peers[dump.UID]
	var p *Peer
	if ok {
		p = existing
	} else {
		p = NewPeer(dump.UID, dump.Name, dump.NodeUID, dump.NodeName, dump.Groups, sink)
		d.peers[dump.UID] = p
	}
	dirs := make(map[string]AccessDirectory, len(d.accessDirs))
	for k, v := range d.accessDirs {
		dirs[k] = v
	}
	d.mu.Unlock()

	for accessID, raw := range dump.Accesses {
		dir, bound := dirs[accessID]
		if !bound {
			continue
		}
		loaded, err := dir.LoadAccess(raw)
		if err != nil {
			return nil, err
		}
		p.SetAccess(accessID, loaded)
	}
	return p, nil
}

// Unregister removes a peer. On unregister, PeerAccessUnset is invoked in
// reverse access order (§4.1).
func (d *Directory) Unregister(uid string) {
	d.mu.Lock()
	p, ok := d.peers[uid]
	if ok {
		delete(d.peers, uid)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	ids := p.AccessIDs()
	for i := len(ids) - 1; i >= 0; i-- {
		p.UnsetAccess(ids[i])
	}
}

// GetPeer returns the peer registered under uid, or UnknownPeer.
func (d *Directory) GetPeer(uid string) (*Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[uid]
	if !ok {
		return nil, &UnknownPeer{UID: uid}
	}
	return p, nil
}

// GetPeersForGroup returns every peer whose Groups() contains group. An
// empty slice is a legal result (§4.1).
func (d *Directory) GetPeersForGroup(group string) []*Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Peer
	for _, p := range d.peers {
		if p.InGroup(group) {
			out = append(out, p)
		}
	}
	return out
}
