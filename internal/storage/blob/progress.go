package blob

import (
	"bytes"
	"io"
)

// ProgressReader reports reads from an in-memory body. It stays seekable so
// SDKs that rewind the body to sign or retry keep working; a rewind resets
// the counter.
type ProgressReader struct {
	r        *bytes.Reader
	total    int64
	loaded   int64
	progress ProgressFunc
}

func NewProgressReader(body []byte, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{
		r:        bytes.NewReader(body),
		total:    int64(len(body)),
		progress: progress,
	}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.progress != nil {
			p.progress(p.loaded, p.total)
		}
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.loaded = pos
	return pos, nil
}

func (p *ProgressReader) Len() int64 { return p.total }

var _ io.ReadSeeker = (*ProgressReader)(nil)
