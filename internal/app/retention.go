package app

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/storage"
	"github.com/dev-tams/archivekit/internal/storage/prunable"
)

// ApplyRetention deletes archive objects under the configured prefix that were
// written more than retention.max_age before now. Archives are disjoint
// batches, so only age decides; a newer archive never replaces an older one.
// Objects whose names do not parse as archives are left alone.
func ApplyRetention(ctx context.Context, ac config.ArchiveConfig, st storage.Storage, now time.Time, logger *zap.Logger) error {
	r := ac.Retention
	if !r.Enabled() {
		return nil
	}

	pr, ok := st.(prunable.Prunable)
	if !ok {
		logger.Info("retention skipped, storage is not prunable", zap.String("storage", st.Name()))
		return nil
	}

	objects, err := pr.List(ctx, strings.Trim(ac.Prefix, "/"))
	if err != nil {
		return fmt.Errorf("retention list: %w", err)
	}

	expired, kept, skipped := selectExpired(objects, now.Add(-r.MaxAge))
	for _, o := range expired {
		if err := pr.Delete(ctx, o.Key); err != nil {
			return fmt.Errorf("retention delete: %w", err)
		}
		logger.Warn("expired archive deleted, its records are no longer stored anywhere",
			zap.String("key", o.Key),
			zap.Duration("retention", r.MaxAge),
		)
	}

	logger.Info("retention applied",
		zap.String("storage", st.Name()),
		zap.Int("kept", kept),
		zap.Int("deleted", len(expired)),
		zap.Int("skipped", skipped),
	)
	return nil
}

// selectExpired returns the archives written strictly before cutoff.
func selectExpired(objects []prunable.ObjectInfo, cutoff time.Time) (expired []prunable.ObjectInfo, kept, skipped int) {
	for _, o := range objects {
		t, ok := parseArchiveTimeFromKey(o.Key)
		if !ok {
			skipped++
			continue
		}
		if t.Before(cutoff) {
			expired = append(expired, o)
			continue
		}
		kept++
	}
	return expired, kept, skipped
}

// parseArchiveTimeFromKey reads the unix millis out of
// "archive-1760616000123.json[.gz][.enc]".
func parseArchiveTimeFromKey(key string) (time.Time, bool) {
	base := path.Base(key)
	if !strings.HasPrefix(base, "archive-") {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(base, "archive-")

	i := strings.Index(rest, ".json")
	if i <= 0 {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
