package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/archive"
	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/schedule"
)

type runFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (archive.Result, error)

// RunDaemon runs an archive pass on every tick of archive.schedule until ctx
// is cancelled. A failed pass is logged and the daemon keeps going; the next
// tick picks up whatever the failed one left behind.
func RunDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger, runTimeout time.Duration) error {
	return runDaemon(ctx, cfg, logger, runTimeout, RunArchive)
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger, runTimeout time.Duration, run runFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	spec := strings.TrimSpace(cfg.Archive.Schedule)
	if spec == "" {
		return fmt.Errorf("daemon: archive.schedule is empty")
	}

	sched, err := schedule.New(spec, logger)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	return sched.Run(ctx, func(ctx context.Context) {
		runCtx := ctx
		cancel := func() {}
		if runTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, runTimeout)
		}
		defer cancel()

		res, err := run(runCtx, cfg, logger)
		if err == nil {
			return
		}
		if runTimeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.Error("daemon: run timed out",
				zap.Duration("timeout", runTimeout),
				zap.String("run_id", res.RunID),
			)
			return
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("daemon: run interrupted by shutdown", zap.String("run_id", res.RunID))
			return
		}
		logger.Warn("daemon: run did not complete, waiting for next tick",
			zap.String("run_id", res.RunID),
			zap.String("outcome", string(res.Outcome)),
		)
	})
}
