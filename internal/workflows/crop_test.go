package workflows

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/cutimage-pipeline/internal/metrics"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"gitlab.com/tozd/go/errors"
)

// pngImage draws a w x h image whose top 160 rows are red and the rest blue.
func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.RGBA{B: 255, A: 255}
		if y < 160 {
			c = color.RGBA{R: 255, A: 255}
		}
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCropTop(t *testing.T) {
	t.Run("removes_band_keeps_width", func(t *testing.T) {
		for _, h := range []int{161, 300, 1000} {
			out, err := CropTop(pngImage(t, 120, h), 160, 90)
			require.NoError(t, err)

			img, err := jpeg.Decode(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, 120, img.Bounds().Dx())
			assert.Equal(t, h-160, img.Bounds().Dy())

			r, _, b, _ := img.At(60, 0).RGBA()
			assert.Greater(t, b, r, "top row should come from below the band")
		}
	})

	t.Run("too_small", func(t *testing.T) {
		for _, h := range []int{1, 100, 160} {
			_, err := CropTop(pngImage(t, 50, h), 160, 90)
			assert.ErrorIs(t, err, ErrImageTooSmall)
		}
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := CropTop([]byte("<html>not an image</html>"), 160, 90)
		assert.ErrorIs(t, err, ErrDecodeFailed)
	})
}

type failingWriter struct{}

func (failingWriter) Put(context.Context, string, io.Reader, string) error {
	return errors.New("disk full")
}

type stubFetcher struct {
	images map[string][]byte
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := f.images[url]
	if !ok {
		return nil, &storage.StatusError{URL: url, Code: 404, Status: "404 Not Found"}
	}
	return data, nil
}

func TestCropperAcquireAndCrop(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	fetcher := &stubFetcher{images: map[string][]byte{
		"https://img.example.com/a.png":     pngImage(t, 80, 400),
		"https://img.example.com/small.png": pngImage(t, 80, 100),
	}}
	c := NewCropper(fetcher, fs, nil)

	t.Run("stores_and_returns_reference", func(t *testing.T) {
		ref, err := c.AcquireAndCrop(ctx, AssetRequest{
			BatchID:     "b1",
			RowIndex:    0,
			ColumnIndex: 2,
			SourceURL:   "https://img.example.com/a.png",
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref, "/processed/b1/1-3-"), ref)
		assert.True(t, strings.HasSuffix(ref, ".jpg"))

		file := strings.TrimPrefix(ref, "/processed/b1/")
		data, err := storage.ReadAll(ctx, fs, storage.AssetKey("b1", file))
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 240, img.Bounds().Dy())
	})

	t.Run("unique_names_and_base_url", func(t *testing.T) {
		req := AssetRequest{BatchID: "b1", SourceURL: "https://img.example.com/a.png", BaseURL: "https://app.example.com/"}
		first, err := c.AcquireAndCrop(ctx, req)
		require.NoError(t, err)
		second, err := c.AcquireAndCrop(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
		assert.True(t, strings.HasPrefix(first, "https://app.example.com/processed/b1/1-1-"), first)
	})

	t.Run("download_failure", func(t *testing.T) {
		_, err := c.AcquireAndCrop(ctx, AssetRequest{BatchID: "b1", SourceURL: "https://img.example.com/missing.png"})
		assert.ErrorIs(t, err, ErrDownloadFailed)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("too_small", func(t *testing.T) {
		_, err := c.AcquireAndCrop(ctx, AssetRequest{BatchID: "b1", SourceURL: "https://img.example.com/small.png"})
		assert.ErrorIs(t, err, ErrImageTooSmall)
		assert.False(t, errors.Is(err, ErrDownloadFailed))
	})

	t.Run("store_failure", func(t *testing.T) {
		broken := NewCropper(fetcher, failingWriter{}, nil)
		_, err := broken.AcquireAndCrop(ctx, AssetRequest{BatchID: "b1", SourceURL: "https://img.example.com/a.png"})
		assert.ErrorIs(t, err, ErrStoreFailed)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, metrics.KindDownload, errorKind(errors.Errorf("%w: x", ErrDownloadFailed)))
	assert.Equal(t, metrics.KindDecode, errorKind(ErrDecodeFailed))
	assert.Equal(t, metrics.KindTooSmall, errorKind(ErrImageTooSmall))
	assert.Equal(t, metrics.KindStore, errorKind(errors.Errorf("%w: x", ErrStoreFailed)))
	assert.Equal(t, metrics.KindOther, errorKind(errors.New("boom")))
}
