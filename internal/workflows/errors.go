package workflows

import (
	"fmt"

	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"gitlab.com/tozd/go/errors"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not registered
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidRequest is returned when the request is invalid
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrRunNotFound is returned when a run ID is unknown to the runner
	ErrRunNotFound = errors.New("run not found")

	// ErrDownloadFailed is returned when a source image cannot be fetched
	ErrDownloadFailed = errors.New("download failed")

	// ErrDecodeFailed is returned when image dimensions or pixels cannot be read
	ErrDecodeFailed = errors.New("decode failed")

	// ErrImageTooSmall is returned when the image is not taller than the crop band
	ErrImageTooSmall = errors.New("image too small")

	// ErrStoreFailed is returned when a cropped image cannot be written
	ErrStoreFailed = errors.New("store failed")

	// ErrBatchNotFound is returned when the batch record does not exist
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchFinalized is returned when a completed or failed batch is run again
	ErrBatchFinalized = errors.New("batch already finalized")

	// ErrSchemaDrift is matched by *SchemaDriftError
	ErrSchemaDrift = errors.New("spreadsheet structure changed since upload")
)

// SchemaDriftError reports how a re-parsed upload differs from its record
type SchemaDriftError struct {
	ExpectedColumns int
	ActualColumns   int
	ExpectedRows    int
	ActualRows      int
	Expected        sheet.Classification
	Actual          sheet.Classification
}

func (e *SchemaDriftError) Error() string {
	if e.ExpectedColumns != e.ActualColumns {
		return fmt.Sprintf("%s: expected %d columns, found %d", ErrSchemaDrift, e.ExpectedColumns, e.ActualColumns)
	}
	if e.ExpectedRows != e.ActualRows {
		return fmt.Sprintf("%s: expected %d rows, found %d", ErrSchemaDrift, e.ExpectedRows, e.ActualRows)
	}
	return fmt.Sprintf("%s: column roles differ", ErrSchemaDrift)
}

func (e *SchemaDriftError) Is(target error) bool {
	return target == ErrSchemaDrift
}
