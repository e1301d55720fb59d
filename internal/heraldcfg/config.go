// Package heraldcfg loads and validates Herald's configuration, following
// the shape and style of the teacher's internal/config package
// (Default/Validate/Load/Save/Ensure backed by encoding/json) adapted to
// the keys §6 of the spec names: node.uid, node.name, peer.name,
// application.id, mqtt.host, mqtt.port, mqtt.username, mqtt.password.
package heraldcfg

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Config is Herald's full configuration.
type Config struct {
	Node        Node        `json:"node"`
	Peer        Peer        `json:"peer"`
	Application Application `json:"application"`
	MQTT        MQTT        `json:"mqtt"`
}

// Node identifies the hosting node. UID/Name default to empty, in which
// case the local peer mirrors them from its own uid/name (§3).
type Node struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// Peer names the local peer.
type Peer struct {
	Name string `json:"name"`
}

// Application scopes peers to an application id (§6's "App id"); peers
// with differing ids never intermix on MQTT, because it is folded into
// the topic prefix.
type Application struct {
	ID string `json:"id"`
}

// MQTT configures the broker endpoint for the reference transport.
type MQTT struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Default returns the configuration defaults named in §6: broker
// localhost:1883, no credentials.
func Default() Config {
	return Config{
		Application: Application{ID: "herald"},
		MQTT: MQTT{
			Host: "localhost",
			Port: 1883,
		},
	}
}

// Validate checks the fields Herald cannot function without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Application.ID) == "" {
		return errors.New("application.id is required")
	}
	if strings.TrimSpace(c.MQTT.Host) == "" {
		return errors.New("mqtt.host is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return errors.New("mqtt.port must be 1..65535")
	}
	return nil
}

// Load reads and validates a JSON configuration file, starting from
// Default() so missing fields keep their defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and writes cfg as indented JSON to path.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads the config at path if it exists, otherwise writes and
// returns Default(). Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
