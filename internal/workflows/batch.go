package workflows

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batchstore"
	"github.com/tendant/cutimage-pipeline/internal/dedupe"
	"github.com/tendant/cutimage-pipeline/internal/metrics"
	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// AssetCropper turns an image URL into a stored crop
type AssetCropper interface {
	AcquireAndCrop(ctx context.Context, req AssetRequest) (string, error)
}

// BatchWorkflowConfig wires a BatchWorkflow
type BatchWorkflowConfig struct {
	Store   batchstore.Store
	Uploads storage.Reader
	Results storage.Writer
	Cropper AssetCropper

	// Generator backs the per-run title deduplicator; nil disables titles
	Generator dedupe.Generator

	// Retry wraps each title generation; the zero value means
	// dedupe.DefaultRetryPolicy
	Retry dedupe.RetryPolicy

	Metrics *metrics.Metrics
}

// ProcessResult is the outcome of a completed batch
type ProcessResult struct {
	FileName       string
	Columns        []string
	Rows           [][]string
	Errors         []pipeline.CellError
	ResultFilePath string
}

// BatchWorkflow drives one batch from upload to result workbook
type BatchWorkflow struct {
	store     batchstore.Store
	uploads   storage.Reader
	results   storage.Writer
	cropper   AssetCropper
	generator dedupe.Generator
	retry     dedupe.RetryPolicy
	metrics   *metrics.Metrics
}

// NewBatchWorkflow creates the cutimage workflow
func NewBatchWorkflow(cfg BatchWorkflowConfig) *BatchWorkflow {
	retry := cfg.Retry
	if retry.Retries == 0 && retry.Backoff == nil {
		retry = dedupe.DefaultRetryPolicy
	}
	return &BatchWorkflow{
		store:     cfg.Store,
		uploads:   cfg.Uploads,
		results:   cfg.Results,
		cropper:   cfg.Cropper,
		generator: cfg.Generator,
		retry:     retry,
		metrics:   cfg.Metrics,
	}
}

// Name returns the workflow name
func (w *BatchWorkflow) Name() string {
	return "CutImageBatchWorkflow"
}

// Execute runs Process for the request's batch
func (w *BatchWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	if wctx.Request.BatchID == "" {
		return &WorkflowResult{Success: false, Error: ErrInvalidRequest.Error()}, ErrInvalidRequest
	}

	res, err := w.Process(wctx.Ctx, wctx.Request.BatchID)
	if err != nil {
		return &WorkflowResult{Success: false, Error: err.Error()}, err
	}

	return &WorkflowResult{
		Success: true,
		Outputs: map[string]string{
			"batch_id":         wctx.Request.BatchID,
			"result_file_path": res.ResultFilePath,
			"file_name":        res.FileName,
			"rows":             strconv.Itoa(len(res.Rows)),
			"errors":           strconv.Itoa(len(res.Errors)),
		},
	}, nil
}

// Process runs the batch. Per-cell failures are recorded on the batch; any
// other failure finalizes the batch as failed and is returned.
func (w *BatchWorkflow) Process(ctx context.Context, batchID string) (*ProcessResult, error) {
	start := time.Now()
	logger := zerolog.Ctx(ctx).With().Str("batch_id", batchID).Logger()
	ctx = logger.WithContext(ctx)

	record, err := w.store.Get(ctx, batchID)
	if err != nil {
		if errors.Is(err, batchstore.ErrNotFound) {
			return nil, errors.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, errors.Errorf("failed to load batch: %w", err)
	}
	// A processing record is resumed; durable runs restart after a crash.
	if record.Status.IsFinal() {
		return nil, errors.Errorf("%w: %s is %s", ErrBatchFinalized, batchID, record.Status)
	}

	record, err = w.store.Update(ctx, batchID, func(b *pipeline.Batch) error {
		b.Status = pipeline.StatusProcessing
		b.ProcessedRows = 0
		b.Errors = []pipeline.CellError{}
		b.ResultFilePath = ""
		b.PreviewRows = nil
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("failed to mark batch processing: %w", err)
	}
	logger.Info().Str("file", record.OriginalFileName).Int("rows", record.TotalRows).Msg("batch processing started")

	run := &batchRun{
		BatchWorkflow: w,
		record:        record,
		titles: dedupe.New(w.generator,
			dedupe.WithFallbackHook(w.metrics.TitleFallback)),
		errors: []pipeline.CellError{},
	}

	res, err := run.execute(ctx)
	if err != nil {
		// Record the failure even when ctx is cancelled
		finalCtx := context.WithoutCancel(ctx)
		if _, uerr := w.store.Update(finalCtx, batchID, func(b *pipeline.Batch) error {
			b.Status = pipeline.StatusFailed
			b.ResultFilePath = ""
			b.Errors = append([]pipeline.CellError{}, run.errors...)
			return nil
		}); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to mark batch failed")
		}
		w.metrics.BatchFinished(string(pipeline.StatusFailed), time.Since(start))
		logger.Error().Err(err).Int("cell_errors", len(run.errors)).Msg("batch failed")
		return nil, err
	}

	stats := run.titles.Stats()
	w.metrics.BatchFinished(string(pipeline.StatusCompleted), time.Since(start))
	logger.Info().
		Int("rows", len(res.Rows)).
		Int("cell_errors", len(res.Errors)).
		Int("title_identifiers", stats.Identifiers).
		Int("titles", stats.Titles).
		Dur("elapsed", time.Since(start)).
		Msg("batch completed")
	return res, nil
}

// batchRun holds the state of one Process call
type batchRun struct {
	*BatchWorkflow

	record *pipeline.Batch
	titles *dedupe.Deduplicator
	errors []pipeline.CellError
}

func (r *batchRun) execute(ctx context.Context) (*ProcessResult, error) {
	id := r.record.ID

	data, err := storage.ReadAll(ctx, r.uploads, r.record.UploadPath)
	if err != nil {
		return nil, errors.Errorf("failed to read upload: %w", err)
	}
	parsed, err := sheet.Parse(data)
	if err != nil {
		return nil, errors.Errorf("failed to parse upload: %w", err)
	}
	if err := r.checkDrift(parsed); err != nil {
		return nil, err
	}

	rows := make([][]string, len(parsed.Rows))
	for i, row := range parsed.Rows {
		rows[i] = append([]string(nil), row...)
	}

	total := r.record.TotalRows
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return nil, errors.Errorf("batch interrupted at row %d: %w", i+2, err)
		}

		r.processTitle(ctx, i, rows[i])
		r.processImages(ctx, i, rows[i])
		r.metrics.RowProcessed()

		done := i + 1
		if done == total || done%pipeline.CheckpointEvery == 0 {
			if err := r.checkpoint(ctx, done); err != nil {
				return nil, err
			}
		}
	}

	out, err := sheet.Write(r.record.Columns, rows)
	if err != nil {
		return nil, errors.Errorf("failed to build result workbook: %w", err)
	}
	fileName := sheet.ResultFileName(r.record.OriginalFileName)
	key := storage.ResultKey(id, fileName)
	if err := r.results.Put(ctx, key, bytes.NewReader(out), storage.XLSXContentType); err != nil {
		return nil, errors.Errorf("failed to store result workbook: %w", err)
	}

	preview := rows
	if len(preview) > pipeline.PreviewRowLimit {
		preview = preview[:pipeline.PreviewRowLimit]
	}
	cellErrors := append([]pipeline.CellError{}, r.errors...)
	_, err = r.store.Update(ctx, id, func(b *pipeline.Batch) error {
		b.Status = pipeline.StatusCompleted
		b.ResultFilePath = key
		b.ProcessedRows = total
		b.Errors = cellErrors
		b.PreviewRows = preview
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("failed to finalize batch: %w", err)
	}

	return &ProcessResult{
		FileName:       fileName,
		Columns:        r.record.Columns,
		Rows:           rows,
		Errors:         cellErrors,
		ResultFilePath: key,
	}, nil
}

func (r *batchRun) checkDrift(parsed *sheet.Parsed) error {
	expected := sheet.Classification{
		URLColumnIndexes:      r.record.URLColumnIndexes,
		TitleColumnIndex:      r.record.TitleColumnIndex,
		IdentifierColumnIndex: r.record.IdentifierColumnIndex,
	}
	if len(parsed.Columns) != len(r.record.Columns) ||
		len(parsed.Rows) != r.record.TotalRows ||
		!expected.Equal(parsed.Classification) {
		return &SchemaDriftError{
			ExpectedColumns: len(r.record.Columns),
			ActualColumns:   len(parsed.Columns),
			ExpectedRows:    r.record.TotalRows,
			ActualRows:      len(parsed.Rows),
			Expected:        expected,
			Actual:          parsed.Classification,
		}
	}
	return nil
}

// processTitle replaces the title cell when both title and identifier are set
func (r *batchRun) processTitle(ctx context.Context, rowIndex int, row []string) {
	if !r.record.HasTitleGeneration() {
		return
	}
	titleIdx, idIdx := *r.record.TitleColumnIndex, *r.record.IdentifierColumnIndex
	original, identifier := row[titleIdx], row[idIdx]
	if original == "" || identifier == "" {
		return
	}

	title, err := dedupe.WithRetry(ctx, r.titles, r.retry, identifier, original)
	if err != nil {
		r.cellError(ctx, rowIndex, titleIdx, metrics.KindTitle, err)
		return
	}
	row[titleIdx] = title
}

// processImages replaces each non-empty URL cell with its crop reference
func (r *batchRun) processImages(ctx context.Context, rowIndex int, row []string) {
	for _, col := range r.record.URLColumnIndexes {
		url := row[col]
		if url == "" {
			continue
		}

		ref, err := r.cropper.AcquireAndCrop(ctx, AssetRequest{
			BatchID:     r.record.ID,
			RowIndex:    rowIndex,
			ColumnIndex: col,
			SourceURL:   url,
			BaseURL:     r.record.BaseURL,
		})
		if err != nil {
			r.cellError(ctx, rowIndex, col, errorKind(err), err)
			continue
		}
		row[col] = ref
	}
}

func (r *batchRun) cellError(ctx context.Context, rowIndex, col int, kind string, err error) {
	ce := pipeline.NewCellError(rowIndex, col, err.Error())
	r.errors = append(r.errors, ce)
	r.metrics.CellError(kind)
	zerolog.Ctx(ctx).Warn().
		Int("row", ce.Row).
		Int("column", col+1).
		Str("kind", kind).
		Err(err).
		Msg("cell failed")
}

func (r *batchRun) checkpoint(ctx context.Context, done int) error {
	cellErrors := append([]pipeline.CellError{}, r.errors...)
	_, err := r.store.Update(ctx, r.record.ID, func(b *pipeline.Batch) error {
		b.ProcessedRows = done
		b.Errors = cellErrors
		return nil
	})
	if err != nil {
		return errors.Errorf("failed to checkpoint progress: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Int("processed_rows", done).Msg("progress checkpoint")
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrDownloadFailed):
		return metrics.KindDownload
	case errors.Is(err, ErrDecodeFailed):
		return metrics.KindDecode
	case errors.Is(err, ErrImageTooSmall):
		return metrics.KindTooSmall
	case errors.Is(err, ErrStoreFailed):
		return metrics.KindStore
	default:
		return metrics.KindOther
	}
}
