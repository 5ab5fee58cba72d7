package workflows

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/metrics"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Fetcher downloads a source image
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AssetRequest identifies one image cell of a batch
type AssetRequest struct {
	BatchID     string
	RowIndex    int
	ColumnIndex int
	SourceURL   string
	BaseURL     string
}

// Cropper downloads images, removes the top band and stores the result
type Cropper struct {
	fetcher Fetcher
	store   storage.Writer
	metrics *metrics.Metrics
	band    int
	quality int
}

// NewCropper creates a cropper with the standard band height and quality
func NewCropper(fetcher Fetcher, store storage.Writer, m *metrics.Metrics) *Cropper {
	return &Cropper{
		fetcher: fetcher,
		store:   store,
		metrics: m,
		band:    pipeline.CropBandHeight,
		quality: pipeline.CropJPEGQuality,
	}
}

// AcquireAndCrop returns the public reference of the stored crop
func (c *Cropper) AcquireAndCrop(ctx context.Context, req AssetRequest) (string, error) {
	data, err := c.fetcher.Fetch(ctx, req.SourceURL)
	if err != nil {
		return "", errors.Errorf("%w: %s", ErrDownloadFailed, err.Error())
	}

	out, err := CropTop(data, c.band, c.quality)
	if err != nil {
		return "", err
	}

	file := fmt.Sprintf("%d-%d-%s.jpg", req.RowIndex+1, req.ColumnIndex+1, uuid.NewString())
	key := storage.AssetKey(req.BatchID, file)
	if err := c.store.Put(ctx, key, bytes.NewReader(out), "image/jpeg"); err != nil {
		return "", errors.Errorf("%w: %s", ErrStoreFailed, err.Error())
	}

	c.metrics.ImageCropped()
	zerolog.Ctx(ctx).Debug().
		Str("source", req.SourceURL).
		Str("key", key).
		Int("bytes", len(out)).
		Msg("image cropped")

	return storage.PublicAssetURL(req.BaseURL, req.BatchID, file), nil
}

// CropTop removes a band of pixels from the top of the image, keeping the
// full width, and encodes the rest as JPEG.
func CropTop(data []byte, band, quality int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Errorf("%w: cannot read image dimensions: %s", ErrDecodeFailed, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("%w: cannot read image dimensions", ErrDecodeFailed)
	}
	if cfg.Height <= band {
		return nil, errors.Errorf("%w: height %dpx is not greater than %dpx", ErrImageTooSmall, cfg.Height, band)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Errorf("%w: %s", ErrDecodeFailed, err.Error())
	}

	bounds := img.Bounds()
	cropped := imaging.Crop(img, image.Rect(bounds.Min.X, bounds.Min.Y+band, bounds.Max.X, bounds.Max.Y))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Errorf("failed to encode cropped image: %w", err)
	}
	return buf.Bytes(), nil
}
