// Package proto holds the reserved subject prefixes and wire-level header
// names shared by the correlation engine and every transport. Keeping them
// here (rather than in internal/herald) lets a transport package depend on
// the subject vocabulary without importing the engine itself.
package proto

// Reserved subject prefixes. Messages under the error and directory
// prefixes are handled internally by the engine (see herald.Engine.Handle)
// and never reach the listener registry; transports route discovery
// messages to herald.PeerContact.HandleDiscovery instead of the engine.
const (
	SubjectErrorPrefix     = "herald/error/"
	SubjectDirectoryPrefix = "herald/directory/"
	SubjectDiscoveryPrefix = "herald/discovery/"
)

// herald/error/<kind>
const ErrorNoListener = "no-listener"

// herald/directory/<kind>
const (
	DirectoryNewcomer = "newcomer"
	DirectoryWelcome  = "welcome"
	DirectoryBye      = "bye"
)

// herald/discovery/<kind>
const (
	DiscoveryStep1 = "step1"
	DiscoveryStep2 = "step2"
	DiscoveryStep3 = "step3"
)

// Header keys carried in every Message's Headers map.
const (
	HeaderSenderUID   = "herald.sender.uid"
	HeaderTargetPeer  = "herald.target.peer"
	HeaderTargetGroup = "herald.target.group"
	HeaderRepliesTo   = "herald.replies.to"
)

// GroupAll is the broadcast group; transports subscribe to it whether or
// not the local peer lists it among its groups, so a newcomer's broadcast
// step1 reaches everyone. Directory group lookups only count peers that
// list it explicitly.
const GroupAll = "all"
