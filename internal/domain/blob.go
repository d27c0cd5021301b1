package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object. Metadata is only populated by Stat;
// list calls do not return it.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// BlobWriter uploads a complete object, replacing any object at path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string, meta map[string]string) error
}

// BlobReader retrieves data from object storage. Missing objects are
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (BlobInfo, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves finished sessions to cold storage.
type Archiver interface {
	ArchiveSessions(ctx context.Context, tradingDate string) (int64, error)
}
