package storage

import (
	"context"
	"testing"

	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/storage/local"
	"github.com/dev-tams/archivekit/internal/storage/prunable"
	s3store "github.com/dev-tams/archivekit/internal/storage/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Storage: []config.StorageConfig{
			{Name: "disk", Type: "local", Local: &config.LocalConfig{Path: t.TempDir()}},
			{Name: "bucket", Type: "s3", S3: &config.S3Config{
				Bucket: "item-archive", Region: "us-east-1", AccessKey: "AKID", SecretKey: "SECRET",
			}},
			{Name: "broken", Type: "ftp"},
		},
	}
	ctx := context.Background()

	st, err := FromConfig(ctx, cfg, "disk")
	require.NoError(t, err)
	assert.IsType(t, &local.Storage{}, st)
	assert.Implements(t, (*prunable.Prunable)(nil), st)

	st, err = FromConfig(ctx, cfg, "bucket")
	require.NoError(t, err)
	assert.IsType(t, &s3store.Storage{}, st)
	assert.Equal(t, "bucket", st.Name())
	assert.Implements(t, (*prunable.Prunable)(nil), st)

	_, err = FromConfig(ctx, cfg, "broken")
	assert.ErrorContains(t, err, "unknown type")

	_, err = FromConfig(ctx, cfg, "missing")
	assert.ErrorContains(t, err, "not found")
}
