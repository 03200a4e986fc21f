// The manual binary runs the two bookkeeping stages around human
// applications: merge processed flags from the work queue (s0), then
// export the still-unprocessed records back into it (s5).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/core/config"
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

	slog.InfoContext(ctx, "manual queue sync starting", "queue", cfg.Paths.Manual)

	if err := stages.FlagMerge(cfg)(ctx); err != nil {
		slog.ErrorContext(ctx, "flag merge failed", "error", err)
		os.Exit(1)
	}
	if err := stages.ManualExport(cfg)(ctx); err != nil {
		slog.ErrorContext(ctx, "export failed", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "manual queue sync complete")
}
