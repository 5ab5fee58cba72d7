package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
	"gitlab.com/tozd/go/errors"
)

var (
	contentOwnerID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	contentTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// ContentStore keeps uploads in a simple-content service. References are
// content IDs.
type ContentStore struct {
	service simplecontent.Service
}

// NewContentStore creates an upload store backed by simple-content
func NewContentStore(service simplecontent.Service) *ContentStore {
	return &ContentStore{
		service: service,
	}
}

// SaveUpload uploads data as new content and returns its ID
func (cs *ContentStore) SaveUpload(ctx context.Context, fileName string, data []byte) (string, error) {
	documentType := XLSXContentType
	if sniffed := http.DetectContentType(data); sniffed != "application/zip" && sniffed != "application/octet-stream" {
		documentType = sniffed
	}

	content, err := cs.service.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:      contentOwnerID,
		TenantID:     contentTenantID,
		Name:         fileName,
		DocumentType: documentType,
		Reader:       bytes.NewReader(data),
		FileName:     SafeName(fileName),
		Tags:         []string{"cutimage", "upload"},
	})
	if err != nil {
		return "", errors.Errorf("failed to upload content: %w", err)
	}

	return content.ID.String(), nil
}

// GetReader returns a reader for content by content ID
func (cs *ContentStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil, errors.Errorf("%w: content ID %q", ErrInvalidKey, key)
	}

	reader, err := cs.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, errors.Errorf("failed to download content: %w", err)
	}

	return reader, nil
}

// Exists checks if content exists by content ID
func (cs *ContentStore) Exists(ctx context.Context, key string) (bool, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return false, errors.Errorf("%w: content ID %q", ErrInvalidKey, key)
	}

	// Any lookup failure counts as missing
	if _, err := cs.service.GetContent(ctx, id); err != nil {
		return false, nil
	}

	return true, nil
}
