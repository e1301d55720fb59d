// Package herald is a peer-to-peer messaging substrate: processes
// address each other by stable identity (a peer UID or a group name)
// instead of by transport-level location.
//
// The engine (internal/herald), reference MQTT transport
// (internal/mqtt) and configuration loader (internal/heraldcfg) are
// exported here as a single top-level entry point so a caller only
// needs one import to wire up a running Engine bound to a broker.
package herald

import (
	"log"

	"github.com/google/uuid"

	"github.com/ahmadshahwan/cohorte-herald/internal/herald"
	"github.com/ahmadshahwan/cohorte-herald/internal/heraldcfg"
	"github.com/ahmadshahwan/cohorte-herald/internal/mqtt"
	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// Engine is the correlation engine and public messaging API (fire,
// fire_group, send, post, forget, reply).
type Engine = herald.Engine

// Peer, Message and MessageReceived are the value objects passed
// across the public API.
type Peer = herald.Peer
type Message = herald.Message
type MessageReceived = herald.MessageReceived

// Config is the configuration Up takes.
type Config = heraldcfg.Config

// NewMessage builds an outbound Message with a fresh UID and the
// current timestamp. Constructing a message does not transmit it.
var NewMessage = herald.NewMessage

// Up wires a full Engine around a local peer and the MQTT reference
// transport described by cfg, connects to the broker, announces this
// peer on the "all" group, and returns the running Engine. Callers that
// need a transport other than MQTT, or a local peer descriptor Up
// doesn't cover, should build the pieces in internal/herald and
// internal/mqtt directly instead.
func Up(cfg heraldcfg.Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	local := herald.NewPeer(uuid.NewString(), cfg.Peer.Name, cfg.Node.UID, cfg.Node.Name, []string{proto.GroupAll}, nil)

	directory := herald.NewDirectory(local)
	directory.BindAccessDirectory(mqtt.AccessID, mqtt.AccessDirectory{})

	listeners := herald.NewListenerRegistry()
	mux := herald.NewMultiplexer(nil, nil)

	engine := herald.NewEngine(directory, listeners, mux, herald.DefaultWorkerCount, logger)
	contact := herald.NewPeerContact(directory, engine)

	transport, err := mqtt.NewTransport(mqtt.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		AppID:    cfg.Application.ID,
	}, directory, engine.Handle, contact.HandleDiscovery, contact.Announce, logger)
	if err != nil {
		return nil, err
	}
	mux.Bind(transport)

	return engine, nil
}
