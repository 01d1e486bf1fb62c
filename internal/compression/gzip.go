package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func Gzip(dst io.Writer, src io.Reader) (int64, error) {
	gz := gzip.NewWriter(dst)

	n, err := io.Copy(gz, src)
	if err != nil {
		_ = gz.Close()
		return n, err
	}

	// gzip writes the footer on Close.
	if err := gz.Close(); err != nil {
		return n, err
	}

	return n, nil
}

func Gunzip(dst io.Writer, src io.Reader) (int64, error) {
	gr, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	n, err := io.Copy(dst, gr)
	if err != nil {
		return n, fmt.Errorf("gunzip copy: %w", err)
	}
	return n, nil
}

// GzipBytes compresses an in-memory archive.
func GzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Gzip(&buf, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
