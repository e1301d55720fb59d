package herald

import "fmt"

// UnknownPeer is returned by Directory.GetPeer when no peer is registered
// under the given UID.
type UnknownPeer struct {
	UID string
}

func (e *UnknownPeer) Error() string { return fmt.Sprintf("herald: unknown peer %q", e.UID) }

// NoTransport is returned when fire/reply exhausted every access on a
// peer without a bound transport accepting the message, or when no
// transport is bound at all.
type NoTransport struct {
	Reason string
}

func (e *NoTransport) Error() string {
	if e.Reason == "" {
		return "herald: no transport available"
	}
	return "herald: no transport available: " + e.Reason
}

// InvalidPeerAccess is strictly internal (§7): a transport returns it to
// signal "this peer has no usable descriptor for me", driving fire()'s
// fallback search across a peer's other accesses. It must never escape
// Engine.Fire/Reply to a caller.
type InvalidPeerAccess struct {
	AccessID string
	PeerUID  string
}

func (e *InvalidPeerAccess) Error() string {
	return fmt.Sprintf("herald: peer %q has no usable %q access", e.PeerUID, e.AccessID)
}

// NoListener is raised through a waiter when the remote peer answered
// with herald/error/no-listener: it has no subscriber for the subject.
type NoListener struct {
	UID     string
	Subject string
}

func (e *NoListener) Error() string {
	return fmt.Sprintf("herald: no listener for subject %q (uid %s)", e.Subject, e.UID)
}

// HeraldTimeout is raised when a send() deadline is missed, or when the
// engine shuts down while a send() is still waiting.
type HeraldTimeout struct {
	Reason string
}

func (e *HeraldTimeout) Error() string { return "herald: timeout: " + e.Reason }

// ForgotMessage is raised through a waiter that forget(uid) removed.
type ForgotMessage struct {
	UID string
}

func (e *ForgotMessage) Error() string { return fmt.Sprintf("herald: forgot message %s", e.UID) }
