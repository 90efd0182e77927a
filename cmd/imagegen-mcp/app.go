package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/ironsheep/imagegen-mcp/internal/config"
	"github.com/ironsheep/imagegen-mcp/internal/httpclient"
	"github.com/ironsheep/imagegen-mcp/internal/imaging"
	"github.com/ironsheep/imagegen-mcp/internal/observability"
	"github.com/ironsheep/imagegen-mcp/internal/provider"
	"github.com/ironsheep/imagegen-mcp/internal/server"
	"github.com/ironsheep/imagegen-mcp/internal/store"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        config.Config
	logger     zerolog.Logger
	dispatcher *server.Dispatcher
	telemetry  *observability.Telemetry
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	logger := observability.InitLogger("imagegen-mcp", cfg.LogLevel)

	tel, err := observability.SetupTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	observer, err := observability.NewToolObserver(
		otelapi.GetMeterProvider().Meter("imagegen-mcp/tool"),
		otelapi.GetTracerProvider().Tracer("imagegen-mcp/tool"),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing tool observability: %w", err)
	}

	st, err := store.New(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("output store: %w", err)
	}

	registry := provider.NewRegistry(httpclient.New(nil, cfg.Timeout), st, logger)
	if err := registry.Register(provider.NewOpenAI(cfg.OpenAI.BaseURL, cfg.OpenAI.Model)); err != nil {
		return nil, err
	}

	dispatcher, err := server.NewDispatcher(registry, imaging.NewBackend(st), st, logger, observer)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	logger.Debug().
		Str("output_dir", st.Dir()).
		Dur("timeout", cfg.Timeout).
		Int("workers", cfg.Workers).
		Strs("providers", registry.IDs()).
		Msg("configuration loaded")

	return &app{cfg: cfg, logger: logger, dispatcher: dispatcher, telemetry: tel}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
