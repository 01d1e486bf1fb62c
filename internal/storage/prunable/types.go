package prunable

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Prunable is implemented by archive stores that can enumerate and remove
// their own objects. Keys are relative to the store's configured prefix.
type Prunable interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
