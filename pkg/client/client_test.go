package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestUploadAndProcess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, pipeline.ErrorResponse{Error: "missing file"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		writeJSON(w, http.StatusOK, pipeline.UploadResponse{
			BatchID:   "b1",
			TotalRows: len(data),
			Preview:   pipeline.Preview{FileName: header.Filename},
		})
	})
	mux.HandleFunc("POST /v1/batches/{id}/process", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "b1" {
			writeJSON(w, http.StatusConflict, pipeline.ErrorResponse{Error: "batch is already processing"})
			return
		}
		writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{BatchID: "b1", RunID: "run-1", Status: pipeline.StatusProcessing})
	})
	mux.HandleFunc("POST /v1/batches/{id}/reprocess", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{BatchID: "b2", RunID: "run-2", Status: pipeline.StatusProcessing})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx := context.Background()
	c := New(ts.URL + "/")

	up, err := c.Upload(ctx, "/tmp/in/products.xlsx", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)
	assert.Equal(t, "b1", up.BatchID)
	assert.Equal(t, 5, up.TotalRows)
	assert.Equal(t, "products.xlsx", up.Preview.FileName)

	pr, err := c.Process(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", pr.RunID)

	_, err = c.Process(ctx, "b9")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "batch is already processing", apiErr.Message)

	pr, err = c.Reprocess(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b2", pr.BatchID)
}

func TestWaitForCompletion(t *testing.T) {
	var polls atomic.Int32
	var final atomic.Value
	final.Store(pipeline.StatusCompleted)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := pipeline.StatusProcessing
		if polls.Add(1) >= 3 {
			status = final.Load().(pipeline.Status)
		}
		writeJSON(w, http.StatusOK, pipeline.StatusResponse{Batch: &pipeline.Batch{ID: "b1", Status: status}})
	}))
	defer ts.Close()

	ctx := context.Background()
	c := New(ts.URL)

	b, err := c.WaitForCompletion(ctx, "b1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, b.Status)
	assert.Equal(t, int32(3), polls.Load())

	t.Run("failed", func(t *testing.T) {
		polls.Store(0)
		final.Store(pipeline.StatusFailed)
		b, err := c.WaitForCompletion(ctx, "b1", time.Millisecond)
		assert.ErrorIs(t, err, ErrBatchFailed)
		require.NotNil(t, b)
		assert.Equal(t, pipeline.StatusFailed, b.Status)
	})

	t.Run("cancelled", func(t *testing.T) {
		polls.Store(-1000)
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := c.WaitForCompletion(cctx, "b1", 5*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDownloadResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/batches/b1/result" {
			writeJSON(w, http.StatusGone, pipeline.ErrorResponse{Error: "result file no longer exists"})
			return
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "products_cutimage.xlsx"}))
		_, _ = w.Write([]byte("workbook"))
	}))
	defer ts.Close()

	c := New(ts.URL)
	var buf bytes.Buffer
	name, err := c.DownloadResult(context.Background(), "b1", &buf)
	require.NoError(t, err)
	assert.Equal(t, "products_cutimage.xlsx", name)
	assert.Equal(t, "workbook", buf.String())

	_, err = c.DownloadResult(context.Background(), "b2", &buf)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.StatusCode)
}
