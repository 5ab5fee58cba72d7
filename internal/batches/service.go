package batches

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batchstore"
	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"github.com/tendant/cutimage-pipeline/internal/workflows"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// Runner enqueues batch runs
type Runner interface {
	RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error)
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
}

// Config wires a Service
type Config struct {
	Store   batchstore.Store
	Uploads storage.UploadStore
	Assets  storage.Reader
	Runner  Runner

	// PublicBaseURL overrides the base URL derived from requests
	PublicBaseURL string
}

// Service implements the batch lifecycle exposed over HTTP and the CLI
type Service struct {
	store         batchstore.Store
	uploads       storage.UploadStore
	assets        storage.Reader
	runner        Runner
	publicBaseURL string
}

func NewService(cfg Config) *Service {
	return &Service{
		store:         cfg.Store,
		uploads:       cfg.Uploads,
		assets:        cfg.Assets,
		runner:        cfg.Runner,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

// BaseURL returns the configured public base URL, or fallback when unset
func (s *Service) BaseURL(fallback string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL
	}
	return strings.TrimRight(fallback, "/")
}

// Upload validates and stores a workbook and creates its batch
func (s *Service) Upload(ctx context.Context, fileName string, data []byte, baseURL string) (*pipeline.UploadResponse, error) {
	if !strings.EqualFold(filepath.Ext(fileName), ".xlsx") || len(data) == 0 {
		return nil, ErrInvalidFile
	}

	parsed, err := sheet.Parse(data)
	if err != nil {
		return nil, err
	}

	ref, err := s.uploads.SaveUpload(ctx, fileName, data)
	if err != nil {
		return nil, errors.Errorf("failed to store upload: %w", err)
	}

	b := &pipeline.Batch{
		ID:                    uuid.NewString(),
		Status:                pipeline.StatusUploaded,
		OriginalFileName:      filepath.Base(fileName),
		UploadPath:            ref,
		Columns:               parsed.Columns,
		TotalRows:             len(parsed.Rows),
		URLColumnIndexes:      parsed.Classification.URLColumnIndexes,
		TitleColumnIndex:      parsed.Classification.TitleColumnIndex,
		IdentifierColumnIndex: parsed.Classification.IdentifierColumnIndex,
		Errors:                []pipeline.CellError{},
		BaseURL:               s.BaseURL(baseURL),
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, errors.Errorf("failed to create batch: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("batch_id", b.ID).
		Str("file", b.OriginalFileName).
		Int("rows", b.TotalRows).
		Ints("url_columns", b.URLColumnIndexes).
		Bool("titles", b.HasTitleGeneration()).
		Msg("batch uploaded")

	preview := parsed.Rows
	if len(preview) > pipeline.PreviewRowLimit {
		preview = preview[:pipeline.PreviewRowLimit]
	}
	return &pipeline.UploadResponse{
		BatchID: b.ID,
		Preview: pipeline.Preview{
			FileName: b.OriginalFileName,
			Columns:  b.Columns,
			Rows:     preview,
		},
		TotalRows: b.TotalRows,
	}, nil
}

// Process marks an uploaded batch as processing and enqueues its run
func (s *Service) Process(ctx context.Context, batchID string) (*pipeline.ProcessResponse, error) {
	_, err := s.store.Update(ctx, batchID, func(b *pipeline.Batch) error {
		if b.Status == pipeline.StatusProcessing {
			return ErrBatchBusy
		}
		if !b.Status.CanTransition(pipeline.StatusProcessing) {
			return errors.Errorf("%w: %s is %s", workflows.ErrBatchFinalized, batchID, b.Status)
		}
		b.Status = pipeline.StatusProcessing
		b.ProcessedRows = 0
		b.Errors = []pipeline.CellError{}
		return nil
	})
	if err != nil {
		return nil, s.notFound(err, batchID)
	}

	runID, err := s.runner.RunAsync(ctx, pipeline.ProcessRequest{BatchID: batchID, Job: pipeline.JobCutImage})
	if err != nil {
		if _, uerr := s.store.Update(context.WithoutCancel(ctx), batchID, func(b *pipeline.Batch) error {
			b.Status = pipeline.StatusFailed
			return nil
		}); uerr != nil {
			zerolog.Ctx(ctx).Error().Err(uerr).Str("batch_id", batchID).Msg("failed to mark batch failed")
		}
		return nil, errors.Errorf("failed to enqueue batch: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("batch_id", batchID).Str("run_id", runID).Msg("batch enqueued")
	return &pipeline.ProcessResponse{
		BatchID: batchID,
		RunID:   runID,
		Status:  pipeline.StatusProcessing,
	}, nil
}

// Reprocess copies a finished batch into a new batch over the same upload and
// enqueues it. The original record is left untouched.
func (s *Service) Reprocess(ctx context.Context, batchID string) (*pipeline.ProcessResponse, error) {
	src, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, s.notFound(err, batchID)
	}
	if !src.Status.IsFinal() {
		return nil, errors.Errorf("%w: %s is %s", ErrBatchNotFinal, batchID, src.Status)
	}

	ok, err := s.uploads.Exists(ctx, src.UploadPath)
	if err != nil {
		return nil, errors.Errorf("failed to check upload: %w", err)
	}
	if !ok {
		return nil, ErrUploadGone
	}

	next := src.Clone()
	next.ID = uuid.NewString()
	next.Status = pipeline.StatusUploaded
	next.ResultFilePath = ""
	next.ProcessedRows = 0
	next.Errors = []pipeline.CellError{}
	next.PreviewRows = nil
	next.CreatedAt = time.Time{}
	next.UpdatedAt = time.Time{}
	if err := s.store.Create(ctx, next); err != nil {
		return nil, errors.Errorf("failed to create batch: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("batch_id", next.ID).Str("source_batch_id", batchID).Msg("batch cloned for reprocessing")
	return s.Process(ctx, next.ID)
}

// Status returns the batch record
func (s *Service) Status(ctx context.Context, batchID string) (*pipeline.Batch, error) {
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, s.notFound(err, batchID)
	}
	return b, nil
}

// List returns every batch, oldest first
func (s *Service) List(ctx context.Context) ([]*pipeline.Batch, error) {
	return s.store.List(ctx)
}

// RunStatus reports the queue state of a run
func (s *Service) RunStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return s.runner.GetStatus(ctx, runID)
}

// OpenResult opens the result workbook and returns its download name
func (s *Service) OpenResult(ctx context.Context, batchID string) (io.ReadCloser, string, error) {
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, "", s.notFound(err, batchID)
	}
	if b.Status != pipeline.StatusCompleted || b.ResultFilePath == "" {
		return nil, "", ErrResultNotReady
	}

	rc, err := s.assets.GetReader(ctx, b.ResultFilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrResultGone
		}
		return nil, "", errors.Errorf("failed to open result: %w", err)
	}
	return rc, sheet.ResultFileName(b.OriginalFileName), nil
}

// OpenAsset opens a cropped image and returns its content type
func (s *Service) OpenAsset(ctx context.Context, batchID, name string) (io.ReadCloser, string, error) {
	if batchID == "" || name == "" || storage.SafeName(name) != name || storage.SafeName(batchID) != batchID ||
		strings.HasPrefix(name, ".") || strings.HasPrefix(batchID, ".") {
		return nil, "", ErrAssetNotFound
	}

	rc, err := s.assets.GetReader(ctx, storage.AssetKey(batchID, name))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrAssetNotFound
		}
		return nil, "", errors.Errorf("failed to open asset: %w", err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return rc, contentType, nil
}

func (s *Service) notFound(err error, batchID string) error {
	if errors.Is(err, batchstore.ErrNotFound) {
		return errors.Errorf("%w: %s", ErrNotFound, batchID)
	}
	return err
}
