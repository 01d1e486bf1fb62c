package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/archive"
	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/encryption"
)

const defaultTimestampAttribute = "createdAt"

type InspectOptions struct {
	From     string
	Password string
	// Print writes the decoded records to Out instead of a summary.
	Print bool
	Out   io.Writer
}

type InspectSummary struct {
	Path    string
	Records int
	Oldest  string
	Newest  string
}

// RunInspect decodes an archive file previously written by an archive run.
// Compression and encryption are detected from the file contents, so renamed
// archives still decode. cfg may be nil; when set it supplies the password and
// the timestamp attribute.
func RunInspect(ctx context.Context, cfg *config.Config, opt InspectOptions, logger *zap.Logger) (InspectSummary, error) {
	if err := ctx.Err(); err != nil {
		return InspectSummary{}, err
	}
	if opt.Out == nil {
		opt.Out = os.Stdout
	}

	data, err := os.ReadFile(opt.From)
	if err != nil {
		return InspectSummary{}, fmt.Errorf("read archive file: %w", err)
	}

	tsAttr := defaultTimestampAttribute
	password := opt.Password
	if cfg != nil {
		if cfg.Table.TimestampAttribute != "" {
			tsAttr = cfg.Table.TimestampAttribute
		}
		if password == "" && cfg.Archive.Encryption.Enabled {
			password = cfg.Archive.Encryption.Password
		}
	}

	logger.Debug("inspecting archive",
		zap.String("path", opt.From),
		zap.Int("bytes", len(data)),
		zap.Bool("encrypted", encryption.IsEncrypted(data)),
	)

	records, err := archive.Decode(data, password)
	if err != nil {
		return InspectSummary{}, fmt.Errorf("decode archive %s: %w", opt.From, err)
	}

	sum := summarize(opt.From, records, tsAttr)

	if opt.Print {
		enc := json.NewEncoder(opt.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return sum, fmt.Errorf("write records: %w", err)
		}
		return sum, nil
	}

	_, err = fmt.Fprintf(opt.Out, "archive %s: records=%d oldest=%s newest=%s\n", sum.Path, sum.Records, sum.Oldest, sum.Newest)
	return sum, err
}

func summarize(path string, records []archive.Record, tsAttr string) InspectSummary {
	sum := InspectSummary{Path: path, Records: len(records)}
	for _, r := range records {
		ts, ok := r[tsAttr].(string)
		if !ok {
			continue
		}
		if sum.Oldest == "" || ts < sum.Oldest {
			sum.Oldest = ts
		}
		if ts > sum.Newest {
			sum.Newest = ts
		}
	}
	return sum
}
