package storage

import (
	"context"

	"github.com/dev-tams/archivekit/internal/storage/blob"
)

type Storage interface {
	Name() string
	// Put uploads obj in one request and reports the completion status.
	Put(ctx context.Context, obj blob.Object, progress blob.ProgressFunc) (blob.Receipt, error)
}
