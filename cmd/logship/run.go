package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SteelMorgan/logship/internal/config"
	"github.com/SteelMorgan/logship/internal/observability"
	"github.com/SteelMorgan/logship/internal/publish"
	"github.com/SteelMorgan/logship/internal/retry"
	"github.com/SteelMorgan/logship/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the configured files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *configPath)
		},
	}
}

func runAgent(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closeLog := observability.InitLogger(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	defer closeLog()

	log.Info().
		Str("version", version).
		Str("config", configPath).
		Int("files", len(cfg.Files)).
		Msg("Starting logship")

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Settings.Tracing, version)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	publisher, err := publish.New(ctx, publish.Options{
		Server:      cfg.Settings.Server,
		Timeout:     time.Duration(cfg.Settings.Publish.TimeoutMs) * time.Millisecond,
		Retry:       retry.DefaultConfig().WithMaxAttempts(cfg.Settings.Publish.MaxAttempts),
		Compression: cfg.Settings.Publish.Compression,
		Table:       cfg.Settings.Publish.Table,
	})
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer publisher.Close()

	svc, err := service.NewAgentService(cfg, publisher)
	if err != nil {
		return fmt.Errorf("failed to create agent service: %w", err)
	}

	// Start returns once a signal arrives or every tailer has failed
	err = svc.Start(ctx)
	if ctx.Err() != nil {
		log.Info().Msg("Received shutdown signal, shutting down gracefully...")
	}
	if stopErr := svc.Stop(); stopErr != nil {
		log.Error().Err(stopErr).Msg("Error during shutdown")
	}
	if err != nil {
		return err
	}

	log.Info().Msg("logship stopped")
	return nil
}
