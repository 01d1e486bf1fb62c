package storage

import (
	"context"
	"fmt"

	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/storage/local"
	s3store "github.com/dev-tams/archivekit/internal/storage/s3"
)

// FromConfig builds the storage backend named by name.
func FromConfig(ctx context.Context, cfg *config.Config, name string) (Storage, error) {
	for _, st := range cfg.Storage {
		if st.Name != name {
			continue
		}

		switch st.Type {
		case "local":
			if st.Local == nil || st.Local.Path == "" {
				return nil, fmt.Errorf("storage %s: local.path is required", st.Name)
			}
			return local.New(st.Name, st.Local.Path), nil

		case "s3":
			if st.S3 == nil {
				return nil, fmt.Errorf("storage %s: s3 config missing", st.Name)
			}
			s, err := s3store.New(ctx, s3store.Options{
				Name:           st.Name,
				Bucket:         st.S3.Bucket,
				Region:         st.S3.Region,
				Prefix:         st.S3.Prefix,
				AccessKey:      st.S3.AccessKey,
				SecretKey:      st.S3.SecretKey,
				Endpoint:       st.S3.Endpoint,
				ForcePathStyle: st.S3.ForcePathStyle,
				PartSize:       int64(st.S3.PartSizeMB) << 20,
			})
			if err != nil {
				return nil, fmt.Errorf("storage %s: %w", st.Name, err)
			}
			return s, nil
		default:
			return nil, fmt.Errorf("storage %s: unknown type %q", st.Name, st.Type)
		}
	}

	return nil, fmt.Errorf("storage %q not found", name)
}
