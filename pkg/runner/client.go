package runner

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// ErrNotDurable is returned by NewClient without a DBOS database URL
var ErrNotDurable = errors.New("DBOS_SYSTEM_DATABASE_URL is required for a queue client")

// Client submits batches to the DBOS queue from a process that does not serve
// HTTP. It shares stores with the workers, so a run its own executor dequeues
// completes the same way.
type Client struct {
	runner *Runner
}

// NewClient creates a queue client
func NewClient(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Client, error) {
	if !cfg.Durable() {
		return nil, ErrNotDurable
	}
	r, err := New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{runner: r}, nil
}

// Submit uploads a workbook and enqueues its batch
func (c *Client) Submit(ctx context.Context, fileName string, data []byte) (*pipeline.ProcessResponse, error) {
	up, err := c.runner.service.Upload(ctx, fileName, data, "")
	if err != nil {
		return nil, err
	}
	return c.runner.service.Process(ctx, up.BatchID)
}

// Status returns the batch record
func (c *Client) Status(ctx context.Context, batchID string) (*pipeline.Batch, error) {
	return c.runner.service.Status(ctx, batchID)
}

// Shutdown gracefully shuts down the client
func (c *Client) Shutdown() error {
	return c.runner.Shutdown()
}
