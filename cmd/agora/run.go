package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agora-run/agora/internal/config"
	"github.com/agora-run/agora/internal/orchestrator"
	"github.com/agora-run/agora/internal/telemetry"
	"github.com/agora-run/agora/internal/wiring"
)

var (
	runConfigPath   string
	runAgentsConfig string
	runAgentID      string
	runTask         string
	runSystemPrompt string
	runMaxTokens    int
	runWorkDir      string
	runMode         string
	runListenAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cognitive loop orchestrator and its peer relay",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to config.toml (optional; documented defaults apply if omitted)")
	runCmd.Flags().StringVar(&runAgentsConfig, "agents-config", "", "Path to backends.json (required)")
	runCmd.Flags().StringVar(&runAgentID, "agent", "", "Agent id in backends.json (required)")
	runCmd.Flags().StringVar(&runTask, "task", "", "Seed an initial task immediately")
	runCmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "System prompt prepended to conversations and tasks")
	runCmd.Flags().IntVar(&runMaxTokens, "max-tokens", 0, "Max tokens per task (0 uses the agentloop default)")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", ".", "Directory the subconscious role's tool calls are sandboxed to")
	runCmd.Flags().StringVar(&runMode, "mode", "cycle", "Drive mode: cycle (one task per iteration) or tick (run-to-completion sessions)")
	runCmd.Flags().StringVar(&runListenAddr, "listen", ":8080", "Relay HTTP/WebSocket listen address")

	_ = runCmd.MarkFlagRequired("agents-config")
	_ = runCmd.MarkFlagRequired("agent")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	log := telemetry.NewStderrLogger(telemetry.ParseLevel(cfg.LogLevel))
	var flush func(context.Context) error
	if endpoint := telemetry.EndpointFromEnv(); endpoint != "" {
		ctx := context.Background()
		otelLog, otelFlush, err := telemetry.NewOTelLogger(ctx, endpoint, telemetry.ParseLevel(cfg.LogLevel))
		if err != nil {
			return fmt.Errorf("building otel logger: %w", err)
		}
		log = otelLog
		flush = otelFlush
	}

	agentsFile, err := config.LoadBackendsFile(runAgentsConfig)
	if err != nil {
		return err
	}
	resolved, err := agentsFile.Resolve(runAgentID)
	if err != nil {
		return err
	}

	mode := orchestrator.CycleMode
	if strings.ToLower(strings.TrimSpace(runMode)) == "tick" {
		mode = orchestrator.TickMode
	}

	ego, subconscious, superego, id, launcher, err := wiring.BuildRoles(wiring.AgentOptions{
		APIConfig:    resolved.API,
		Retry:        resolved.Retry,
		SystemPrompt: runSystemPrompt,
		TaskID:       "",
		TaskDesc:     runTask,
		WorkDir:      runWorkDir,
		MaxTokens:    runMaxTokens,
	})
	if err != nil {
		return err
	}

	env, err := config.RelayEnvFromEnviron()
	if err != nil {
		return err
	}

	built, err := wiring.Build(log, cfg, env, mode, ego, subconscious, superego, id, launcher)
	if err != nil {
		return err
	}

	meter, meterFlush, err := telemetry.NewMeter(context.Background(), telemetry.EndpointFromEnv())
	if err != nil {
		return fmt.Errorf("building otel meter: %w", err)
	}
	if err := wiring.RegisterLoopMetrics(meter, built.Orchestrator); err != nil {
		return err
	}
	if err := wiring.RegisterRelayMetrics(meter, built.Relay); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	built.Relay.RegisterHandlers(mux)
	httpServer := &http.Server{Addr: runListenAddr, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("relay http server failed", "err", err)
		}
	}()
	go built.Relay.Hub().Run(ctx)

	if err := built.Bus.Start(ctx); err != nil {
		return fmt.Errorf("starting message bus: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = built.Bus.Stop(stopCtx)
	}()

	if err := built.Orchestrator.RestoreRateLimit(); err != nil {
		log.Warn("failed to restore rate-limit hibernation", "err", err)
	}
	if err := built.Orchestrator.Start(); err != nil {
		return err
	}

	runErr := built.Orchestrator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if meterFlush != nil {
		_ = meterFlush(shutdownCtx)
	}
	if flush != nil {
		_ = flush(shutdownCtx)
	}

	restartRequested = built.Orchestrator.RestartRequested()

	if ctx.Err() != nil {
		return nil
	}
	return runErr
}
