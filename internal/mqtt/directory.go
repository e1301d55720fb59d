package mqtt

// AccessID is the access_id this transport registers under, both in
// peer dumps and with the directory/multiplexer.
const AccessID = "mqtt"

// Access is the descriptor this transport stores on a peer (§4.4's
// "load_access"). MQTT addressing is entirely derived from the peer's
// own uid (the topic `<prefix>/<app>/uid/<uid>`), so the descriptor
// itself carries nothing — its presence under access_id "mqtt" is what
// tells Engine.fireToPeer this peer has a usable mqtt access.
type Access struct{}

// AccessDirectory implements herald.AccessDirectory for the "mqtt"
// access id: any descriptor a peer dump carries under "mqtt" loads as
// the empty Access marker, the same way the teacher's state.PeerTable
// treats a presence entry as a marker rather than a payload.
type AccessDirectory struct{}

// LoadAccess ignores data; MQTT access is a marker, not a payload.
func (AccessDirectory) LoadAccess(data any) (any, error) {
	return Access{}, nil
}
