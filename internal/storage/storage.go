package storage

import (
	"context"
	"io"
	"time"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrNotFound is returned when no object exists at a key
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that escape the storage root
	ErrInvalidKey = errors.New("invalid key")
)

// Reader provides read access to stored content
type Reader interface {
	// GetReader returns a reader for the content at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Writer stores content under a key, replacing any previous object
type Writer interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
}

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a keyed object store for cropped assets and result workbooks
type Store interface {
	Reader
	Writer

	Delete(ctx context.Context, key string) error

	// Walk calls fn for every object whose key starts with prefix
	Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
}

// UploadStore keeps original spreadsheet uploads. SaveUpload returns the
// reference later passed to GetReader.
type UploadStore interface {
	Reader

	SaveUpload(ctx context.Context, fileName string, data []byte) (string, error)
}
