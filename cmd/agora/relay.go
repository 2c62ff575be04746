package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agora-run/agora/internal/config"
	"github.com/agora-run/agora/internal/relay"
	"github.com/agora-run/agora/internal/telemetry"
)

var relayListenAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the peer relay server standalone, without the cognitive loop",
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayListenAddr, "listen", ":8080", "HTTP/WebSocket listen address")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log := telemetry.NewStderrLogger(telemetry.ParseLevel(cfg.LogLevel))

	env, err := config.RelayEnvFromEnviron()
	if err != nil {
		return err
	}
	if !env.RESTEnabled {
		log.Warn("AGORA_RELAY_JWT_SECRET is unset; REST surface disabled, WebSocket-only")
	}

	srv, err := relay.NewServer(log, relay.Config{
		JWTSecret:        env.JWTSecret,
		JWTExpiry:        env.JWTExpiry,
		BufferCapacity:   cfg.Relay.BufferCapacity,
		OriginAllowlist:  cfg.Relay.OriginAllowlist,
		PollDefaultLimit: cfg.Relay.PollDefaultLimit,
		PollMaxLimit:     cfg.Relay.PollMaxLimit,
		MaxWSConnections: cfg.Relay.MaxWSConnections,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	srv.RegisterHandlers(mux)
	httpServer := &http.Server{Addr: relayListenAddr, Handler: mux}

	go srv.Hub().Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
