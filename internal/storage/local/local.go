package local

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dev-tams/archivekit/internal/storage/blob"
	"github.com/dev-tams/archivekit/internal/storage/prunable"
)

// Storage keeps archives as plain files under a base directory.
type Storage struct {
	name string
	base string
}

func New(name, basePath string) *Storage {
	return &Storage{name: name, base: basePath}
}

func (s *Storage) Name() string { return s.name }

func (s *Storage) Put(ctx context.Context, obj blob.Object, progress blob.ProgressFunc) (blob.Receipt, error) {
	finalPath := filepath.Join(s.base, filepath.FromSlash(obj.Key))

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return blob.Receipt{}, fmt.Errorf("mkdir: %w", err)
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return blob.Receipt{}, fmt.Errorf("create temp: %w", err)
	}

	w := &writer{f: f, tmpPath: tmpPath, finalPath: finalPath}
	n, copyErr := io.Copy(w, &ctxReader{ctx: ctx, r: blob.NewProgressReader(obj.Body, progress)})
	if copyErr != nil {
		w.abort()
		return blob.Receipt{}, fmt.Errorf("write archive: %w", copyErr)
	}
	if err := w.Close(); err != nil {
		return blob.Receipt{}, fmt.Errorf("finalize archive: %w", err)
	}

	return blob.Receipt{
		Location:   finalPath,
		StatusCode: http.StatusOK,
		Bytes:      n,
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type writer struct {
	f         *os.File
	tmpPath   string
	finalPath string
	closed    bool
}

func (w *writer) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *writer) abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.f.Close()
	_ = os.Remove(w.tmpPath)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	return nil
}

func (s *Storage) List(_ context.Context, prefix string) ([]prunable.ObjectInfo, error) {
	dir := filepath.Join(s.base, filepath.FromSlash(prefix))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dir: %w", err)
	}

	out := make([]prunable.ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// half-written archives from an interrupted run
		if strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}

		out = append(out, prunable.ObjectInfo{
			Key:     filepath.ToSlash(filepath.Join(prefix, e.Name())),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	p := filepath.Join(s.base, filepath.FromSlash(key))
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
