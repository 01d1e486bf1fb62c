package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/archive"
	"github.com/dev-tams/archivekit/internal/config"
)

var inspectRecords = []archive.Record{
	{"itemId": "a", "createdAt": "2026-08-01T00:00:00.000Z"},
	{"itemId": "b", "createdAt": "2026-07-15T10:00:00.000Z"},
	{"itemId": "c", "createdAt": "2026-09-01T00:00:00.000Z"},
}

func writeArchive(t *testing.T, dir string, opts archive.EncodeOptions) string {
	t.Helper()
	name := "archive-1792152000000" + opts.Ext()
	obj, err := archive.Encode(name, inspectRecords, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, obj.Body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestRunInspectSummary(t *testing.T) {
	tests := []struct {
		name string
		opts archive.EncodeOptions
	}{
		{name: "plain"},
		{name: "gzip", opts: archive.EncodeOptions{Compression: true}},
		{name: "encrypted", opts: archive.EncodeOptions{EncryptionPassword: "pw"}},
		{name: "gzip+encrypted", opts: archive.EncodeOptions{Compression: true, EncryptionPassword: "pw"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeArchive(t, t.TempDir(), tc.opts)

			var out bytes.Buffer
			sum, err := RunInspect(context.Background(), nil, InspectOptions{
				From:     p,
				Password: tc.opts.EncryptionPassword,
				Out:      &out,
			}, zap.NewNop())
			if err != nil {
				t.Fatalf("inspect: %v", err)
			}

			if sum.Records != 3 {
				t.Fatalf("expected 3 records, got %d", sum.Records)
			}
			if sum.Oldest != "2026-07-15T10:00:00.000Z" || sum.Newest != "2026-09-01T00:00:00.000Z" {
				t.Fatalf("unexpected range: %s .. %s", sum.Oldest, sum.Newest)
			}
			if !strings.Contains(out.String(), "records=3") {
				t.Fatalf("unexpected output: %q", out.String())
			}
		})
	}
}

func TestRunInspectPrintUsesConfigPassword(t *testing.T) {
	p := writeArchive(t, t.TempDir(), archive.EncodeOptions{Compression: true, EncryptionPassword: "secret"})

	cfg := &config.Config{}
	cfg.Archive.Compression = true
	cfg.Archive.Encryption = config.EncryptionConfig{Enabled: true, Password: "secret"}

	var out bytes.Buffer
	if _, err := RunInspect(context.Background(), cfg, InspectOptions{From: p, Print: true, Out: &out}, zap.NewNop()); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var got []archive.Record
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("printed output is not json: %v", err)
	}
	if len(got) != 3 || got[0]["itemId"] != "a" {
		t.Fatalf("unexpected records: %v", got)
	}
}

func TestRunInspectEncryptedWithoutPassword(t *testing.T) {
	p := writeArchive(t, t.TempDir(), archive.EncodeOptions{EncryptionPassword: "pw"})

	_, err := RunInspect(context.Background(), nil, InspectOptions{From: p, Out: &bytes.Buffer{}}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "no password") {
		t.Fatalf("expected missing password error, got %v", err)
	}
}

func TestRunInspectDetectsFormatFromContents(t *testing.T) {
	dir := t.TempDir()
	p := writeArchive(t, dir, archive.EncodeOptions{Compression: true, EncryptionPassword: "pw"})
	renamed := filepath.Join(dir, "archive.bin")
	if err := os.Rename(p, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}

	// Config says plain JSON; the file contents win.
	cfg := &config.Config{}

	var out bytes.Buffer
	sum, err := RunInspect(context.Background(), cfg, InspectOptions{From: renamed, Password: "pw", Out: &out}, zap.NewNop())
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if sum.Records != 3 {
		t.Fatalf("expected 3 records, got %d", sum.Records)
	}
}

func TestRunInspectPrintKeepsLargeNumbers(t *testing.T) {
	p := filepath.Join(t.TempDir(), "archive-1.json")
	if err := os.WriteFile(p, []byte(`[{"itemId": 9007199254740993, "createdAt": "2026-08-01T00:00:00.000Z"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	if _, err := RunInspect(context.Background(), nil, InspectOptions{From: p, Print: true, Out: &out}, zap.NewNop()); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out.String(), "9007199254740993") {
		t.Fatalf("expected exact item id in output, got %q", out.String())
	}
}
