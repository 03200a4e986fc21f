package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/applypilot/applypilot/common/id"
	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/common/otel"
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

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.Error("telemetry shutdown", "error", err)
			}
		}()
	}
	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{"run_id": id.NewBase36()})

	slog.InfoContext(ctx, "pipeline starting",
		"env", cfg.Env, "seq", cfg.Pipeline.Seq, "keep_going", cfg.Pipeline.KeepGoing)

	browser, err := page.LaunchChromium(cfg.Browser.Headful)
	if err != nil {
		slog.ErrorContext(ctx, "failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	runner := stages.Runner(cfg, browser)

	if spec := cfg.Pipeline.CronSpec; spec != "" {
		slog.InfoContext(ctx, "pipeline on schedule", "cron", spec)
		if err := runner.RunOnSchedule(ctx, spec); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "scheduled pipeline stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runner.Run(ctx); err != nil {
		slog.ErrorContext(ctx, "pipeline failed", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "pipeline complete")
}
