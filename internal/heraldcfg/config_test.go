package heraldcfg

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if cfg.MQTT.Host != "localhost" || cfg.MQTT.Port != 1883 {
		t.Fatalf("unexpected defaults: %+v", cfg.MQTT)
	}
}

func TestValidateRejectsMissingAppID(t *testing.T) {
	cfg := Default()
	cfg.Application.ID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty application.id")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for port 0")
	}
	cfg.MQTT.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for port 70000")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.json")

	cfg := Default()
	cfg.Application.ID = "my-app"
	cfg.Node.UID = "node-1"
	cfg.Peer.Name = "worker"
	cfg.MQTT.Username = "alice"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestEnsureCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatalf("expected Ensure to report a freshly created file")
	}
	if cfg != Default() {
		t.Fatalf("ensure returned %+v, want Default()", cfg)
	}

	_, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure (second run): %v", err)
	}
	if created2 {
		t.Fatalf("second Ensure should not report creation")
	}
}
