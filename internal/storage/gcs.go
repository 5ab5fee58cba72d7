package storage

import (
	"context"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"gitlab.com/tozd/go/errors"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on a Cloud Storage bucket
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStore stores objects in bucket, optionally under a key prefix
func NewGCSStore(client *gcs.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("gcs store: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("gcs store: bucket is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + key)
}

// Put uploads r to key
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return errors.Errorf("failed to finalize %s: %w", key, err)
	}
	return nil
}

// GetReader opens the object at key
func (s *GCSStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, errors.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, errors.Errorf("failed to open %s: %w", key, err)
	}
	return r, nil
}

// Exists checks the object attributes
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, errors.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object; missing objects are not an error
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return errors.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Walk lists objects under prefix
func (s *GCSStore) Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.prefix + prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Errorf("failed to list %s: %w", prefix, err)
		}
		if err := fn(ObjectInfo{
			Key:     strings.TrimPrefix(attrs.Name, s.prefix),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		}); err != nil {
			return err
		}
	}
}

var (
	_ Store = (*GCSStore)(nil)
	_ Store = (*FilesystemStorage)(nil)

	_ UploadStore = (*KeyedUploads)(nil)
	_ UploadStore = (*ContentStore)(nil)
)
