// Package config loads the orchestrator's single typed configuration
// record, following the teacher's config/agents_api.go pattern of plain
// structs plus $ENV_VAR-indirected secrets, with the file format switched
// to TOML to exercise the teacher's BurntSushi/toml dependency.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// LoopConfig mirrors spec.md §3's LoopConfig record exactly.
type LoopConfig struct {
	CycleDelayMS                    int  `toml:"cycle_delay_ms"`
	SuperegoAuditInterval           int  `toml:"superego_audit_interval"`
	MaxConsecutiveIdleCycles        int  `toml:"max_consecutive_idle_cycles"`
	IdleSleepEnabled                bool `toml:"idle_sleep_enabled"`
	EvaluateOutcomeEnabled          bool `toml:"evaluate_outcome_enabled"`
	EvaluateOutcomeQualityThreshold int  `toml:"evaluate_outcome_quality_threshold"`
}

// RelayConfig holds the relay's non-secret, non-env-sourced settings.
// AGORA_RELAY_JWT_SECRET, AGORA_JWT_EXPIRY_SECONDS, and PORT are read
// directly from the environment per spec.md §6 and are never written to
// this file, so key material never touches disk in a config artifact.
type RelayConfig struct {
	BufferCapacity     int      `toml:"buffer_capacity"`
	OriginAllowlist    []string `toml:"origin_allowlist"`
	PollDefaultLimit   int      `toml:"poll_default_limit"`
	PollMaxLimit       int      `toml:"poll_max_limit"`
	MaxWSConnections   int      `toml:"max_ws_connections"`
}

// WatchdogConfig mirrors spec.md §4.5.
type WatchdogConfig struct {
	CheckInterval        time.Duration `toml:"-"`
	CheckIntervalSeconds int           `toml:"check_interval_seconds"`
	StallThreshold       time.Duration `toml:"-"`
	StallThresholdSeconds int          `toml:"stall_threshold_seconds"`
	ForceRestartAfter    time.Duration `toml:"-"`
	ForceRestartAfterSeconds int       `toml:"force_restart_after_seconds"`
}

// ConversationConfig mirrors spec.md §4.1.3 / §5.
type ConversationConfig struct {
	IdleTimeout       time.Duration `toml:"-"`
	IdleTimeoutSeconds int          `toml:"idle_timeout_seconds"`
	MaxDuration       time.Duration `toml:"-"`
	MaxDurationSeconds int          `toml:"max_duration_seconds"`
}

// StopConfig mirrors spec.md §5's stop() grace deadline.
type StopConfig struct {
	GraceDeadline        time.Duration `toml:"-"`
	GraceDeadlineMillis  int           `toml:"grace_deadline_ms"`
}

// Config is the single typed record spec.md §9 ("Dynamic config / named
// parameters") requires: every documented default in §2/§5/§6 has one
// canonical field here.
type Config struct {
	Loop         LoopConfig         `toml:"loop"`
	Relay        RelayConfig        `toml:"relay"`
	Watchdog     WatchdogConfig     `toml:"watchdog"`
	Conversation ConversationConfig `toml:"conversation"`
	Stop         StopConfig         `toml:"stop"`
	StateDir     string             `toml:"state_dir"`
	LogLevel     string             `toml:"log_level"`
}

// Defaults returns the documented defaults from spec.md §2/§4/§5.
func Defaults() Config {
	return Config{
		Loop: LoopConfig{
			CycleDelayMS:                    0,
			SuperegoAuditInterval:           10,
			MaxConsecutiveIdleCycles:        5,
			IdleSleepEnabled:                true,
			EvaluateOutcomeEnabled:          false,
			EvaluateOutcomeQualityThreshold: 60,
		},
		Relay: RelayConfig{
			BufferCapacity:   100,
			OriginAllowlist:  []string{"localhost", "127.0.0.1"},
			PollDefaultLimit: 50,
			PollMaxLimit:     100,
			MaxWSConnections: 500,
		},
		Watchdog: WatchdogConfig{
			CheckIntervalSeconds:     300,
			StallThresholdSeconds:    1200,
			ForceRestartAfterSeconds: 600,
		},
		Conversation: ConversationConfig{
			IdleTimeoutSeconds: 20,
			MaxDurationSeconds: 300,
		},
		Stop: StopConfig{
			GraceDeadlineMillis: 5000,
		},
		StateDir: "./state",
		LogLevel: "info",
	}
}

// Load reads path (a TOML file) over the documented defaults and resolves
// the duration fields, returning the resolved config. It applies no
// environment-variable overrides; the relay's environment settings are
// read separately into RelayEnv.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	resolveDurations(&cfg)
	return cfg, nil
}

func resolveDurations(cfg *Config) {
	cfg.Watchdog.CheckInterval = time.Duration(cfg.Watchdog.CheckIntervalSeconds) * time.Second
	cfg.Watchdog.StallThreshold = time.Duration(cfg.Watchdog.StallThresholdSeconds) * time.Second
	cfg.Watchdog.ForceRestartAfter = time.Duration(cfg.Watchdog.ForceRestartAfterSeconds) * time.Second
	cfg.Conversation.IdleTimeout = time.Duration(cfg.Conversation.IdleTimeoutSeconds) * time.Second
	cfg.Conversation.MaxDuration = time.Duration(cfg.Conversation.MaxDurationSeconds) * time.Second
	cfg.Stop.GraceDeadline = time.Duration(cfg.Stop.GraceDeadlineMillis) * time.Millisecond
}

// RelayEnv holds the relay's environment-sourced settings, kept separate
// from Config because they are secrets/deployment parameters that must
// never round-trip through a file on disk.
type RelayEnv struct {
	JWTSecret       string
	JWTExpiry       time.Duration
	WebSocketPort   int
	RESTEnabled     bool
}

// RelayEnvFromEnviron reads AGORA_RELAY_JWT_SECRET, AGORA_JWT_EXPIRY_SECONDS,
// and PORT per spec.md §6. REST is disabled whenever the secret is unset.
func RelayEnvFromEnviron() (RelayEnv, error) {
	secret := os.Getenv("AGORA_RELAY_JWT_SECRET")

	expirySeconds := 3600
	if raw := os.Getenv("AGORA_JWT_EXPIRY_SECONDS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return RelayEnv{}, fmt.Errorf("parsing AGORA_JWT_EXPIRY_SECONDS: %w", err)
		}
		expirySeconds = v
	}

	port := 8080
	if raw := os.Getenv("PORT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return RelayEnv{}, fmt.Errorf("parsing PORT: %w", err)
		}
		port = v
	}

	return RelayEnv{
		JWTSecret:     secret,
		JWTExpiry:     time.Duration(expirySeconds) * time.Second,
		WebSocketPort: port,
		RESTEnabled:   secret != "",
	}, nil
}
