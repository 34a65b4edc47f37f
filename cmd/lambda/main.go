package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"vocab-agent/internal/app"
	"vocab-agent/internal/config"
	"vocab-agent/internal/logger"
	"vocab-agent/internal/telemetry"
)

func main() {
	ctx := context.Background()

	// ---- Configuration ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	// ---- Tracing ----
	shutdown, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdown(context.Background()) }()

	// ---- Clients, agent and handler ----
	a, err := app.New(ctx, *cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	lambda.Start(a.Handler.Handle)
}
