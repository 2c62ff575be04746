package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxConsecutiveIdleCycles != 5 {
		t.Fatalf("expected default MaxConsecutiveIdleCycles=5, got %d", cfg.Loop.MaxConsecutiveIdleCycles)
	}
	if cfg.Watchdog.StallThresholdSeconds != 1200 {
		t.Fatalf("expected default stall threshold 1200s, got %d", cfg.Watchdog.StallThresholdSeconds)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.toml")
	contents := `
[loop]
max_consecutive_idle_cycles = 9
idle_sleep_enabled = false

[relay]
buffer_capacity = 3
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxConsecutiveIdleCycles != 9 {
		t.Fatalf("expected overridden value 9, got %d", cfg.Loop.MaxConsecutiveIdleCycles)
	}
	if cfg.Loop.IdleSleepEnabled {
		t.Fatalf("expected idle_sleep_enabled overridden to false")
	}
	if cfg.Relay.BufferCapacity != 3 {
		t.Fatalf("expected buffer_capacity 3, got %d", cfg.Relay.BufferCapacity)
	}
	// Fields not present in the file keep their documented default.
	if cfg.Relay.PollDefaultLimit != 50 {
		t.Fatalf("expected untouched default poll limit 50, got %d", cfg.Relay.PollDefaultLimit)
	}
}

func TestRelayEnvFromEnvironDisablesRESTWithoutSecret(t *testing.T) {
	t.Setenv("AGORA_RELAY_JWT_SECRET", "")
	t.Setenv("AGORA_JWT_EXPIRY_SECONDS", "")
	t.Setenv("PORT", "")

	env, err := RelayEnvFromEnviron()
	if err != nil {
		t.Fatalf("RelayEnvFromEnviron: %v", err)
	}
	if env.RESTEnabled {
		t.Fatalf("expected REST disabled with no secret set")
	}
	if env.WebSocketPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", env.WebSocketPort)
	}
}

func TestRelayEnvFromEnvironEnablesRESTWithSecret(t *testing.T) {
	t.Setenv("AGORA_RELAY_JWT_SECRET", "s3cr3t")
	t.Setenv("AGORA_JWT_EXPIRY_SECONDS", "120")
	t.Setenv("PORT", "9000")

	env, err := RelayEnvFromEnviron()
	if err != nil {
		t.Fatalf("RelayEnvFromEnviron: %v", err)
	}
	if !env.RESTEnabled {
		t.Fatalf("expected REST enabled when secret is set")
	}
	if env.JWTExpiry.Seconds() != 120 {
		t.Fatalf("expected 120s expiry, got %v", env.JWTExpiry)
	}
	if env.WebSocketPort != 9000 {
		t.Fatalf("expected port 9000, got %d", env.WebSocketPort)
	}
}
