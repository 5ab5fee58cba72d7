package batches

import "gitlab.com/tozd/go/errors"

var (
	// ErrInvalidFile is returned for uploads that are not .xlsx workbooks
	ErrInvalidFile = errors.New("only .xlsx files are accepted")

	// ErrNotFound is returned when the batch does not exist
	ErrNotFound = errors.New("batch not found")

	// ErrBatchBusy is returned when a batch is already processing
	ErrBatchBusy = errors.New("batch is already processing")

	// ErrBatchNotFinal is returned when reprocessing a batch that has not finished
	ErrBatchNotFinal = errors.New("batch has not finished processing")

	// ErrResultNotReady is returned when a batch has no result workbook
	ErrResultNotReady = errors.New("result not available")

	// ErrResultGone is returned when the result file was removed from storage
	ErrResultGone = errors.New("result file no longer exists")

	// ErrUploadGone is returned when the original upload was removed from storage
	ErrUploadGone = errors.New("uploaded file no longer exists")

	// ErrAssetNotFound is returned for unknown processed images
	ErrAssetNotFound = errors.New("asset not found")
)
