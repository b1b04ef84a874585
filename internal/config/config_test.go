package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.ListenAddr != ":8888" {
		t.Fatalf("expected default listen addr, got %q", cfg.Proxy.ListenAddr)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "proxy:\n  listen_addr: \":9999\"\nstorage:\n  driver: sqlite\n  sqlite:\n    path: test.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.ListenAddr != ":9999" {
		t.Fatalf("unexpected listen addr: %q", cfg.Proxy.ListenAddr)
	}
}

func TestLoadRejectsInvalidStorageDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: mongodb\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown storage driver")
	}
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("INTERCEPT_PROXY_LISTEN_ADDR", ":7777")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.ListenAddr != ":7777" {
		t.Fatalf("expected env override, got %q", cfg.Proxy.ListenAddr)
	}
}

func TestValidateRejectsMITMWithoutCAPaths(t *testing.T) {
	cfg := Defaults()
	cfg.Proxy.CACertFile = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when MITM enabled without CA paths")
	}
}
