package runner

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/cutimage-pipeline/internal/config"
	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"github.com/tendant/cutimage-pipeline/pkg/client"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 200))))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Concurrency = 2
	return cfg
}

func TestRunnerEndToEnd(t *testing.T) {
	ctx := context.Background()
	images := imageServer(t)

	r, err := New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, r.Durable())

	api := httptest.NewServer(r.Handler())
	defer api.Close()

	data, err := sheet.Write([]string{"Codigo", "Nombre", "URL"}, [][]string{
		{"A1", "Camisa", images.URL + "/1.png"},
		{"A2", "Pantalón", images.URL + "/2.png"},
	})
	require.NoError(t, err)

	c := client.New(api.URL)
	up, err := c.Upload(ctx, "ropa.xlsx", bytes.NewReader(data))
	require.NoError(t, err)
	_, err = c.Process(ctx, up.BatchID)
	require.NoError(t, err)

	b, err := c.WaitForCompletion(ctx, up.BatchID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, b.Status)
	assert.Equal(t, 2, b.ProcessedRows)
	// no API key: one title cell error per row, images still cropped
	require.Len(t, b.Errors, 2)
	assert.Equal(t, 2, *b.Errors[0].Column)
	assert.Contains(t, b.PreviewRows[0][2], api.URL+"/processed/"+up.BatchID+"/1-3-")

	resp, err := http.Get(b.PreviewRows[0][2])
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	var out bytes.Buffer
	name, err := c.DownloadResult(ctx, up.BatchID, &out)
	require.NoError(t, err)
	assert.Equal(t, "ropa_cutimage.xlsx", name)
	parsed, err := sheet.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Camisa", parsed.Rows[0][1])

	report, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Zero(t, report.Deleted)

	require.NoError(t, r.Shutdown())
}

func TestRunnerProcessDirect(t *testing.T) {
	ctx := context.Background()
	images := imageServer(t)

	r, err := New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer r.Shutdown()

	data, err := sheet.Write([]string{"Imagen"}, [][]string{{images.URL + "/a.png"}})
	require.NoError(t, err)
	up, err := r.Service().Upload(ctx, "a.xlsx", data, "")
	require.NoError(t, err)

	res, err := r.Process(ctx, up.BatchID)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "a_cutimage.xlsx", res.FileName)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = "s3"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewClient(context.Background(), testConfig(t), zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotDurable)
}
