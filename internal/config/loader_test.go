package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("addr: \":9999\"\nredis_addr: \"localhost:6379\"\nshutdown_timeout: 30s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q, want :9999", cfg.Addr)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("shutdown timeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	// Values absent from the file keep their defaults.
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("database path = %q, want default", cfg.DatabasePath)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("RELAYGATE_ADDR", ":7777")
	t.Setenv("RELAYGATE_JWT_SECRET", "env-secret")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Fatalf("addr = %q, want env override", cfg.Addr)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("jwt secret = %q, want env override", cfg.JWTSecret)
	}
}
