package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/archive"
	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/notify"
	"github.com/dev-tams/archivekit/internal/storage"
	"github.com/dev-tams/archivekit/internal/table/dynamo"
)

const notificationTimeout = 5 * time.Second

// notifier is satisfied by *notify.Dispatcher.
type notifier interface {
	Notify(ctx context.Context, event notify.Event) error
}

// RunArchive performs a single archive pass against the configured table and
// archive storage. Any outcome other than Empty or Completed is returned as
// an error alongside the result.
func RunArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (archive.Result, error) {
	if err := cfg.Validate(); err != nil {
		return archive.Result{}, err
	}

	tbl, err := dynamo.New(ctx, cfg.Table)
	if err != nil {
		return archive.Result{}, fmt.Errorf("table %s: %w", cfg.Table.Name, err)
	}

	st, err := storage.FromConfig(ctx, cfg, cfg.Archive.Storage)
	if err != nil {
		return archive.Result{}, err
	}

	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return archive.Result{}, err
	}

	return runArchive(ctx, cfg, tbl, st, dispatcher, logger, time.Now)
}

func runArchive(
	ctx context.Context,
	cfg *config.Config,
	tbl archive.Table,
	st storage.Storage,
	n notifier,
	logger *zap.Logger,
	now func() time.Time,
) (archive.Result, error) {
	runID := uuid.NewString()
	log := logger.With(
		zap.String("run_id", runID),
		zap.String("table", cfg.Table.Name),
		zap.String("storage", st.Name()),
	)

	log.Debug("archive run starting",
		zap.Duration("max_age", cfg.Archive.MaxAge),
		zap.Bool("compression", cfg.Archive.Compression),
		zap.Bool("encryption", cfg.Archive.Encryption.Enabled),
	)

	opts := archive.Options{
		MaxAge:       cfg.Archive.MaxAge,
		Prefix:       cfg.Archive.Prefix,
		KeyAttribute: cfg.Table.KeyAttribute,
		Encode:       archive.EncodeOptions{Compression: cfg.Archive.Compression},
		Now:          now,
	}
	if cfg.Archive.Encryption.Enabled {
		opts.Encode.EncryptionPassword = cfg.Archive.Encryption.Password
	}

	res, err := archive.NewJob(tbl, st, opts, log).Run(ctx)
	res.RunID = runID
	if err == nil {
		err = res.Err()
	}

	if err == nil && res.Outcome == archive.OutcomeCompleted {
		if rerr := ApplyRetention(ctx, cfg.Archive, st, now(), log); rerr != nil {
			err = fmt.Errorf("retention failed: %w", rerr)
		}
	}

	if err != nil {
		log.Error("archive run failed",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("archived", res.Archived),
			zap.Int("deleted", res.Deleted),
			zap.Error(err),
		)
	} else {
		log.Info("archive run finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("archived", res.Archived),
			zap.Int("deleted", res.Deleted),
			zap.Duration("duration", res.Duration.Round(time.Millisecond)),
		)
	}

	notifyResult(ctx, n, cfg.Table.Name, res, err, log)
	return res, err
}

func notifyResult(ctx context.Context, n notifier, table string, res archive.Result, runErr error, log *zap.Logger) {
	if n == nil {
		return
	}

	event := notify.Event{
		RunID:    res.RunID,
		Table:    table,
		Status:   notify.StatusSuccess,
		Outcome:  string(res.Outcome),
		Selected: res.Selected,
		Archived: res.Archived,
		Deleted:  res.Deleted,
		Pending:  res.Pending(),
		Bytes:    res.Receipt.Bytes,
		Dest:     res.Receipt.Location,
		Duration: res.Duration.Round(time.Millisecond).String(),
	}
	if runErr != nil {
		event.Status = notify.StatusFailure
		event.Error = runErr.Error()
	}

	notifyCtx, cancel := notificationContext(ctx)
	defer cancel()

	if err := n.Notify(notifyCtx, event); err != nil {
		log.Warn("notification failed", zap.String("status", event.Status), zap.Error(err))
	}
}

func notificationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), notificationTimeout)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
}
