package wiring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agora-run/agora/internal/clockwork"
	"github.com/agora-run/agora/internal/config"
	"github.com/agora-run/agora/internal/drivequality"
	"github.com/agora-run/agora/internal/idle"
	"github.com/agora-run/agora/internal/llm"
	"github.com/agora-run/agora/internal/orchestrator"
	"github.com/agora-run/agora/internal/ratelimit"
	"github.com/agora-run/agora/internal/relay"
	"github.com/agora-run/agora/internal/roles"
	"github.com/agora-run/agora/internal/scheduler"
	"github.com/agora-run/agora/internal/telemetry"
	"github.com/agora-run/agora/internal/tinybus"
	"github.com/agora-run/agora/internal/watchdog"
)

// AgentOptions selects the default LLM-backed cognitive roles cmd/agora
// builds against. A caller embedding this module with its own reasoning
// backend constructs its own roles.Ego/Subconscious/Superego/Id/
// SessionLauncher and skips this type and BuildRoles entirely.
type AgentOptions struct {
	APIConfig    *config.APIConfig
	Retry        *config.APIRetryConfig
	SystemPrompt string
	TaskID       string
	TaskDesc     string
	WorkDir      string
	MaxTokens    int
}

// Built bundles every component cmd/agora's subcommands need, assembled
// from a config.Config the way the teacher's cmd/agentloop.go assembles
// an llm.Client + agentloop.Executor + agentloop.AgentLoop from flags.
type Built struct {
	Orchestrator *orchestrator.Orchestrator
	Relay        *relay.Server
	Scheduler    *scheduler.Coordinator
	Watchdog     *watchdog.Watchdog
	Bus          *tinybus.Bus
	Clock        clockwork.Clock
}

// BuildRoles constructs the default llm.Client-backed Ego, Subconscious,
// Superego, Id, and SessionLauncher. Ego/Id are one-shot/single-prompt
// placeholders (spec.md places real reasoning and planning out of
// scope); Superego is a passthrough approver for the same reason.
func BuildRoles(opts AgentOptions) (roles.Ego, roles.Subconscious, roles.Superego, roles.Id, roles.SessionLauncher, error) {
	client, err := llm.NewClient(opts.APIConfig)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("wiring: building llm client: %w", err)
	}

	// Honor retry settings from agents.json, mirroring the teacher's
	// cmd/agentloop.go wrapping pattern.
	if opts.Retry != nil && opts.Retry.MaxRetries > 0 {
		client = llm.WithRetry(client, llm.RetryConfig{
			MaxRetries:     opts.Retry.MaxRetries,
			InitialBackoff: time.Duration(opts.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(opts.Retry.MaxBackoffMS) * time.Millisecond,
		})
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	ego := NewEgoOnce(opts.TaskID, opts.TaskDesc)
	subconscious := NewAgentLoopSubconscious(client, workDir, opts.SystemPrompt, opts.MaxTokens)
	superego := PassthroughSuperego{}
	id := NewLLMId(client)
	launcher := NewLLMSessionLauncher(client, opts.SystemPrompt)

	return ego, subconscious, superego, id, launcher, nil
}

// Build assembles the scheduler coordinator, watchdog, rate-limit state
// manager, idle handler, drive-quality tracker, orchestrator, and relay
// server from cfg, the given cognitive roles, and mode. stateDir is
// created if it does not already exist.
func Build(
	log telemetry.Logger,
	cfg config.Config,
	env config.RelayEnv,
	mode orchestrator.Mode,
	ego roles.Ego,
	subconscious roles.Subconscious,
	superego roles.Superego,
	id roles.Id,
	launcher roles.SessionLauncher,
) (*Built, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("wiring: creating state dir %s: %w", cfg.StateDir, err)
	}

	clock := clockwork.RealClock{}

	schedCoord := scheduler.NewCoordinator(log)
	registerJobs(schedCoord, log, cfg.StateDir)

	planStore := ratelimit.NewMarkdownPlanStore(filepath.Join(cfg.StateDir, "plan.md"))
	rateLimitMgr := ratelimit.NewStateManager(cfg.StateDir, planStore)

	idleHandler := idle.NewHandler(log, id, superego, idle.NewMarkdownPlanWriter(filepath.Join(cfg.StateDir, "plan.md")), 0.5)

	driveTracker := drivequality.NewTracker(filepath.Join(cfg.StateDir, "drive-quality.jsonl"))

	wd := watchdog.New(log, clock, cfg.Watchdog.CheckInterval, cfg.Watchdog.StallThreshold, cfg.Watchdog.ForceRestartAfter)

	// bus starts with no registered providers; deployments that want a
	// peer/federation channel (e.g. a Nostr relay provider) register one
	// against Built.Bus before calling Built.Bus.Start.
	bus := tinybus.New(log)

	loopCfg := orchestrator.LoopConfig{
		CycleDelay:                      time.Duration(cfg.Loop.CycleDelayMS) * time.Millisecond,
		SuperegoAuditInterval:           cfg.Loop.SuperegoAuditInterval,
		MaxConsecutiveIdleCycles:        cfg.Loop.MaxConsecutiveIdleCycles,
		IdleSleepEnabled:                cfg.Loop.IdleSleepEnabled,
		EvaluateOutcomeEnabled:          cfg.Loop.EvaluateOutcomeEnabled,
		EvaluateOutcomeQualityThreshold: cfg.Loop.EvaluateOutcomeQualityThreshold,
		ConversationIdleTimeout:         cfg.Conversation.IdleTimeout,
		ConversationMaxDuration:         cfg.Conversation.MaxDuration,
		StopGraceDeadline:               cfg.Stop.GraceDeadline,
	}

	orc := orchestrator.New(log, clock, loopCfg, mode, ego, subconscious, superego, idleHandler, schedCoord, wd, rateLimitMgr, driveTracker, launcher)

	relayServer, err := relay.NewServer(log, relay.Config{
		JWTSecret:        env.JWTSecret,
		JWTExpiry:        env.JWTExpiry,
		BufferCapacity:   cfg.Relay.BufferCapacity,
		OriginAllowlist:  cfg.Relay.OriginAllowlist,
		PollDefaultLimit: cfg.Relay.PollDefaultLimit,
		PollMaxLimit:     cfg.Relay.PollMaxLimit,
		MaxWSConnections: cfg.Relay.MaxWSConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("wiring: building relay server: %w", err)
	}

	return &Built{
		Orchestrator: orc,
		Relay:        relayServer,
		Scheduler:    schedCoord,
		Watchdog:     wd,
		Bus:          bus,
		Clock:        clock,
	}, nil
}

// registerJobs wires the scheduler's five named jobs with logging-only
// effect functions. The real effect of each (tar plumbing, validation
// rules, a metrics sink, a health probe, digest composition) is
// owner-defined per internal/scheduler/jobs.go's doc comments; this
// module supplies no default backend for any of them.
func registerJobs(coord *scheduler.Coordinator, log telemetry.Logger, stateDir string) {
	coord.Register(scheduler.NewBackupScheduler(stateDir, 6*time.Hour, func(ctx context.Context) error {
		log.Debug("backup job ran (no-op backend)")
		return nil
	}))
	coord.Register(scheduler.NewValidationScheduler(stateDir, time.Hour, func(ctx context.Context) error {
		log.Debug("validation job ran (no-op backend)")
		return nil
	}))
	coord.Register(scheduler.NewMetricsScheduler(stateDir, 5*time.Minute, func(ctx context.Context) error {
		log.Debug("metrics job ran (no-op backend)")
		return nil
	}))
	coord.Register(scheduler.NewHealthCheckScheduler(stateDir, time.Minute, func(ctx context.Context) error {
		log.Debug("health check job ran (no-op backend)")
		return nil
	}))
	coord.Register(scheduler.NewEmailDigestScheduler(stateDir, 24*time.Hour, func(ctx context.Context) error {
		log.Debug("email digest job ran (no-op backend)")
		return nil
	}))
}
