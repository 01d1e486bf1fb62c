package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dev-tams/archivekit/internal/compression"
	"github.com/dev-tams/archivekit/internal/encryption"
	"github.com/dev-tams/archivekit/internal/storage/blob"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

type EncodeOptions struct {
	Compression        bool
	EncryptionPassword string
}

func (o EncodeOptions) encrypted() bool { return o.EncryptionPassword != "" }

// Ext returns the archive file suffix for the options.
func (o EncodeOptions) Ext() string {
	ext := ".json"
	if o.Compression {
		ext += ".gz"
	}
	if o.encrypted() {
		ext += ".enc"
	}
	return ext
}

// ArchiveKey names an archive after the write time in unix milliseconds.
func ArchiveKey(prefix string, at time.Time, opts EncodeOptions) string {
	name := fmt.Sprintf("archive-%d%s", at.UnixMilli(), opts.Ext())
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Encode serializes records as an indented JSON array, then compresses and
// encrypts it as configured.
func Encode(key string, records []Record, opts EncodeOptions) (blob.Object, error) {
	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return blob.Object{}, fmt.Errorf("marshal archive: %w", err)
	}

	obj := blob.Object{Key: key, ContentType: contentTypeJSON}

	if opts.Compression {
		body, err = compression.GzipBytes(body)
		if err != nil {
			return blob.Object{}, err
		}
		obj.ContentEncoding = "gzip"
	}

	if opts.encrypted() {
		var buf bytes.Buffer
		if _, err := encryption.EncryptAESGCM(&buf, bytes.NewReader(body), opts.EncryptionPassword); err != nil {
			return blob.Object{}, fmt.Errorf("encrypt archive: %w", err)
		}
		body = buf.Bytes()
		obj.ContentType = contentTypeBinary
		obj.ContentEncoding = ""
	}

	obj.Body = body
	return obj, nil
}

// Decode reads an archive produced by Encode. Encryption and compression are
// detected from the stream itself, not from the file name.
func Decode(data []byte, password string) ([]Record, error) {
	if encryption.IsEncrypted(data) {
		if password == "" {
			return nil, fmt.Errorf("archive is encrypted but no password was given")
		}
		var buf bytes.Buffer
		if _, err := encryption.DecryptAESGCM(&buf, bytes.NewReader(data), password); err != nil {
			return nil, fmt.Errorf("decrypt archive: %w", err)
		}
		data = buf.Bytes()
	}

	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		var buf bytes.Buffer
		if _, err := compression.Gunzip(&buf, bytes.NewReader(data)); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("parse archive: %w", err)
	}
	return records, nil
}
