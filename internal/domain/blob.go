package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from object storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver moves history that has left the in-memory caps into cold
// storage, so bounded memory use does not mean lost history. The
// orchestrator passes it the tasks it trims from its 100-item completed
// list; pipeline records are archived only when a caller invokes
// ArchivePipelineRecords.
type Archiver interface {
	ArchiveTasks(ctx context.Context, before time.Time, tasks []Task) error
	ArchivePipelineRecords(ctx context.Context, before time.Time, records []PipelineRecord) error
}
