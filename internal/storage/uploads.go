package storage

import (
	"bytes"
	"context"
	"io"

	"gitlab.com/tozd/go/errors"
)

// XLSXContentType is the media type of uploads and result workbooks
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// KeyedUploads stores uploads in a Store under UploadKey names
type KeyedUploads struct {
	store Store
}

// NewKeyedUploads adapts store into an UploadStore
func NewKeyedUploads(store Store) *KeyedUploads {
	return &KeyedUploads{store: store}
}

// SaveUpload writes data and returns its key
func (u *KeyedUploads) SaveUpload(ctx context.Context, fileName string, data []byte) (string, error) {
	key := UploadKey(fileName)
	if err := u.store.Put(ctx, key, bytes.NewReader(data), XLSXContentType); err != nil {
		return "", errors.Errorf("failed to save upload: %w", err)
	}
	return key, nil
}

// GetReader returns a reader for a saved upload
func (u *KeyedUploads) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return u.store.GetReader(ctx, key)
}

// Exists checks if an upload is still present
func (u *KeyedUploads) Exists(ctx context.Context, key string) (bool, error) {
	return u.store.Exists(ctx, key)
}

// ReadAll loads a whole object
func ReadAll(ctx context.Context, r Reader, key string) ([]byte, error) {
	rc, err := r.GetReader(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}
