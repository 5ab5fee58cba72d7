package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// ErrBatchFailed is returned by WaitForCompletion when the batch ends as failed
var ErrBatchFailed = errors.New("batch failed")

// APIError is a non-2xx response from the pipeline API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the cutimage pipeline API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Upload sends a workbook and returns the created batch with its preview
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (*pipeline.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return nil, errors.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, errors.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Errorf("failed to build upload: %w", err)
	}

	var out pipeline.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/v1/batches", &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Process enqueues an uploaded batch
func (c *Client) Process(ctx context.Context, batchID string) (*pipeline.ProcessResponse, error) {
	var out pipeline.ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/process", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reprocess runs a finished batch's upload again as a new batch
func (c *Client) Reprocess(ctx context.Context, batchID string) (*pipeline.ProcessResponse, error) {
	var out pipeline.ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/reprocess", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the batch record
func (c *Client) Status(ctx context.Context, batchID string) (*pipeline.Batch, error) {
	var out pipeline.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil, "", &out); err != nil {
		return nil, err
	}
	return out.Batch, nil
}

// WaitForCompletion polls Status until the batch is finalized. A failed batch
// is returned together with ErrBatchFailed.
func (c *Client) WaitForCompletion(ctx context.Context, batchID string, interval time.Duration) (*pipeline.Batch, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b, err := c.Status(ctx, batchID)
		if err != nil {
			return nil, err
		}
		switch b.Status {
		case pipeline.StatusCompleted:
			return b, nil
		case pipeline.StatusFailed:
			return b, errors.Errorf("%w: %s", ErrBatchFailed, batchID)
		}

		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadResult streams the result workbook into w and returns its file name
func (c *Client) DownloadResult(ctx context.Context, batchID string, w io.Writer) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID)+"/result", nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", errors.Errorf("failed to download result: %w", err)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return name, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// send executes the request and turns non-2xx responses into *APIError
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var msg pipeline.ErrorResponse
		if json.Unmarshal(bodyBytes, &msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return nil, apiErr
	}
	return resp, nil
}
