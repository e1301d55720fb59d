package herald

import (
	"sync"
	"time"

	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// dedupWindow bounds how long a newcomer's step1 is remembered as
// "in flight" so a second copy of the same broadcast (e.g. delivered
// once per overlapping group subscription) is collapsed into a single
// response instead of being answered twice (§4.6).
const dedupWindow = 2 * time.Second

// Sender is the narrow slice of Engine that PeerContact needs: enough to
// originate and answer discovery messages without depending on the whole
// engine (and, in tests, without a real transport).
type Sender interface {
	Fire(target string, message *Message) (string, error)
	FireGroup(group string, message *Message) (string, []*Peer, error)
	Reply(original *MessageReceived, content any, subject string) (string, error)
}

// PeerContact implements the three-step discovery handshake (§4.6). A
// transport that supports discovery routes every herald/discovery/*
// message to HandleDiscovery directly, bypassing Engine.Handle/notify —
// discovery messages never reach the listener registry.
type PeerContact struct {
	directory *Directory
	sender    Sender

	mu      sync.Mutex
	inFlight map[string]time.Time // uid -> time step1 was last seen
}

// NewPeerContact builds a PeerContact bound to directory and sender.
func NewPeerContact(directory *Directory, sender Sender) *PeerContact {
	return &PeerContact{
		directory: directory,
		sender:    sender,
		inFlight:  make(map[string]time.Time),
	}
}

// HandleDiscovery dispatches a herald/discovery/<kind> message to the
// matching handshake step.
func (c *PeerContact) HandleDiscovery(received *MessageReceived) {
	switch received.Subject {
	case proto.SubjectDiscoveryPrefix + proto.DiscoveryStep1:
		c.handleStep1(received)
	case proto.SubjectDiscoveryPrefix + proto.DiscoveryStep2:
		c.handleStep2(received)
	case proto.SubjectDiscoveryPrefix + proto.DiscoveryStep3:
		c.handleStep3(received)
	}
}

// handleStep1 processes a newcomer's broadcast. If the sender is
// already known, we still respond (it may have restarted) but skip
// re-registration; a second step1 for the same UID within dedupWindow is
// collapsed entirely.
func (c *PeerContact) handleStep1(received *MessageReceived) {
	dump, ok := AsPeerDump(received.Content)
	if !ok {
		return
	}

	c.mu.Lock()
	if last, seen := c.inFlight[dump.UID]; seen && time.Since(last) < dedupWindow {
		c.mu.Unlock()
		return
	}
	c.inFlight[dump.UID] = time.Now()
	c.mu.Unlock()

	if _, err := c.directory.GetPeer(dump.UID); err != nil {
		if _, regErr := c.directory.Register(dump, nil); regErr != nil {
			return
		}
	}

	local := c.directory.GetLocalPeer().Dump()
	_, _ = c.sender.Reply(received, local, proto.SubjectDiscoveryPrefix+proto.DiscoveryStep2)
}

// handleStep2 registers the responder and sends the step3 ACK. No group
// answer is expected for step2 (§4.6).
func (c *PeerContact) handleStep2(received *MessageReceived) {
	dump, ok := AsPeerDump(received.Content)
	if !ok {
		return
	}
	if _, err := c.directory.GetPeer(dump.UID); err != nil {
		if _, regErr := c.directory.Register(dump, nil); regErr != nil {
			return
		}
	}
	_, _ = c.sender.Reply(received, nil, proto.SubjectDiscoveryPrefix+proto.DiscoveryStep3)
}

// handleStep3 terminates the handshake; the sender was already registered
// when its step1 was handled, so this just clears the in-flight marker.
func (c *PeerContact) handleStep3(received *MessageReceived) {
	c.mu.Lock()
	delete(c.inFlight, received.Sender)
	c.mu.Unlock()
}

// Announce broadcasts this peer's step1 to the "all" group, the way the
// MQTT transport does once it has connected (§4.5).
func (c *PeerContact) Announce() error {
	msg := NewMessage(proto.SubjectDiscoveryPrefix+proto.DiscoveryStep1, c.directory.GetLocalPeer().Dump())
	_, _, err := c.sender.FireGroup(proto.GroupAll, msg)
	return err
}
