package domain

import (
	"context"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads small objects to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// BlobReader retrieves objects from object storage. Get returns ErrNotFound
// for a missing object.
type BlobReader interface {
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// SnapshotArchiver keeps a cold copy of every live snapshot.
type SnapshotArchiver interface {
	Archive(ctx context.Context, snap *Snapshot) (path string, err error)
}
