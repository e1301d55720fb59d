// Package mqtt is Herald's reference transport (§4.5), wrapping
// github.com/eclipse/paho.mqtt.golang the way the gateway in
// pico-cs/mqtt-gateway wraps it: one long-lived Client, a last-will set
// before Connect, and a handler dispatching each inbound publish by
// topic rather than one shared message loop.
package mqtt

import (
	"fmt"
	"log"
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/ahmadshahwan/cohorte-herald/internal/herald"
	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// Config is the broker endpoint and credentials this transport needs
// (§6's mqtt.host/mqtt.port/mqtt.username/mqtt.password).
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Prefix defaults to DefaultPrefix when empty.
	Prefix string
	// AppID scopes the topic namespace (§6's "App id").
	AppID string
	// RawSubjects bypass JSON encoding (§4.5, §6).
	RawSubjects []string
}

// Transport implements herald.Transport over one MQTT connection.
type Transport struct {
	cfg       Config
	prefix    string
	client    MQTT.Client
	directory *herald.Directory
	localUID  string

	onMessage   func(*herald.MessageReceived)
	onDiscovery func(*herald.MessageReceived)
	announce    func() error

	rawSubjects map[string]struct{}
	ripTopic    string
	logger      *log.Logger

	mu        sync.Mutex
	connected bool
}

// AccessID returns "mqtt", the access id this transport serves.
func (t *Transport) AccessID() string { return AccessID }

// NewTransport builds a Transport and connects to the broker. onMessage
// handles everything that reaches Engine.Handle; onDiscovery routes
// herald/discovery/* straight to the peer-contact handshake, bypassing
// the listener registry entirely (§4.5). announce is called once per
// successful connect, after subscriptions are established, so the
// caller can broadcast its discovery step1 (typically
// herald.PeerContact.Announce).
func NewTransport(cfg Config, directory *herald.Directory, onMessage, onDiscovery func(*herald.MessageReceived), announce func() error, logger *log.Logger) (*Transport, error) {
	if logger == nil {
		logger = log.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	local := directory.GetLocalPeer()

	t := &Transport{
		cfg:         cfg,
		prefix:      prefix,
		directory:   directory,
		localUID:    local.UID(),
		onMessage:   onMessage,
		onDiscovery: onDiscovery,
		announce:    announce,
		rawSubjects: toSet(cfg.RawSubjects),
		ripTopic:    ripTopic(prefix, cfg.AppID),
		logger:      logger,
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(local.UID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(t.ripTopic, local.UID(), QoS, false)
	opts.SetOnConnectHandler(t.onConnect)

	t.client = MQTT.NewClient(opts)
	token := t.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return t, nil
}

// onConnect subscribes to every topic this peer needs to hear from, then
// announces the peer's presence (§4.5). It runs again on every
// reconnect, matching the gateway's SetOnConnectHandler pattern.
func (t *Transport) onConnect(client MQTT.Client) {
	local := t.directory.GetLocalPeer()
	local.SetAccess(t.AccessID(), Access{})

	subscribe := func(topic string) {
		tok := client.Subscribe(topic, QoS, t.handleIncoming)
		tok.Wait()
		if err := tok.Error(); err != nil {
			t.logger.Printf("herald/mqtt: subscribe %s failed: %v", topic, err)
		}
	}

	subscribe(uidTopic(t.prefix, t.cfg.AppID, local.UID()))
	subscribe(groupTopic(t.prefix, t.cfg.AppID, proto.GroupAll))
	for _, g := range local.Groups() {
		subscribe(groupTopic(t.prefix, t.cfg.AppID, g))
	}
	subscribe(t.ripTopic)
	for s := range t.rawSubjects {
		subscribe(rawTopic(t.rawBase(), s))
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	if t.announce != nil {
		if err := t.announce(); err != nil {
			t.logger.Printf("herald/mqtt: announce failed: %v", err)
		}
	}
}

// handleIncoming dispatches one inbound publish. Last-will notices go to
// directory.Unregister; discovery subjects bypass handle_message
// entirely; everything else is dropped unless its sender is already
// known, per §4.5's "the peer must discover us first".
func (t *Transport) handleIncoming(_ MQTT.Client, msg MQTT.Message) {
	topic := msg.Topic()

	if topic == t.ripTopic {
		t.directory.Unregister(string(msg.Payload()))
		return
	}

	received, raw, err := decode(topic, msg.Payload(), t.rawBase())
	if err != nil {
		t.logger.Printf("herald/mqtt: could not decode message on %s: %v", topic, err)
		return
	}
	received.Access = t.AccessID()

	if !raw {
		if received.Sender == t.localUID {
			return
		}
		if strings.HasPrefix(received.Subject, proto.SubjectDiscoveryPrefix) {
			if t.onDiscovery != nil {
				t.onDiscovery(received)
			}
			return
		}
		if _, err := t.directory.GetPeer(received.Sender); err != nil {
			return
		}
	}

	if t.onMessage != nil {
		t.onMessage(received)
	}
}

// Fire publishes message to peer's uid topic (§4.5).
func (t *Transport) Fire(peer *herald.Peer, message *herald.Message, extra any) error {
	if _, ok := peer.Access(t.AccessID()); !ok {
		return &herald.InvalidPeerAccess{AccessID: t.AccessID(), PeerUID: peer.UID()}
	}
	message.Headers[proto.HeaderTargetPeer] = peer.UID()

	payload, raw, err := t.encode(message)
	if err != nil {
		return err
	}
	topic := uidTopic(t.prefix, t.cfg.AppID, peer.UID())
	if raw {
		topic = rawTopic(t.rawBase(), message.Subject)
	}

	token := t.client.Publish(topic, QoS, false, payload)
	token.Wait()
	return token.Error()
}

// FireGroup publishes message once to the group's topic; since every
// member subscribes to its groups on connect, one publish is assumed to
// reach every peer the caller asked for (§4.3's coverage bookkeeping
// treats this as full coverage of the requested set).
func (t *Transport) FireGroup(group string, peers []*herald.Peer, message *herald.Message) ([]*herald.Peer, error) {
	message.Headers[proto.HeaderTargetGroup] = group

	payload, raw, err := t.encode(message)
	if err != nil {
		return nil, err
	}
	topic := groupTopic(t.prefix, t.cfg.AppID, group)
	if raw {
		topic = rawTopic(t.rawBase(), message.Subject)
	}

	token := t.client.Publish(topic, QoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return peers, nil
}

// Close disconnects from the broker. The last-will is not triggered by
// a clean disconnect, so we unset our own access first, matching
// _invalidate's peer.unset_access(ACCESS_ID) in the original transport.
func (t *Transport) Close() error {
	t.directory.GetLocalPeer().UnsetAccess(t.AccessID())
	t.client.Disconnect(250)
	return nil
}

func (t *Transport) rawBase() string {
	return t.prefix + "/" + t.cfg.AppID
}
