package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/applypilot/applypilot/common/id"
	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/core/config"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/stages"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	if err := id.Init(4); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{"run_id": id.NewBase36()})

	slog.InfoContext(ctx, "apply engine starting",
		"limit", cfg.Engine.Limit, "fail_fast", cfg.Engine.FailFast,
		"intro_set", cfg.Engine.IntroText != "")

	browser, err := page.LaunchChromium(cfg.Browser.Headful)
	if err != nil {
		slog.ErrorContext(ctx, "failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	if err := stages.Apply(cfg, browser)(ctx); err != nil {
		slog.ErrorContext(ctx, "apply failed", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "apply complete")
}
