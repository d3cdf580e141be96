package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Archive keeps copies of fetched torrent files, grouped per release.
type Archive interface {
	Store(ctx context.Context, releaseID, filename string, data []byte) (string, error)
	List(ctx context.Context, releaseID string) ([]ObjectInfo, error)
	DeleteRelease(ctx context.Context, releaseID string) error
}
