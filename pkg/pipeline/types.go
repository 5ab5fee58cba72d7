package pipeline

import "time"

// Status is the lifecycle state of a batch
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsFinal reports whether s is a terminal status
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces uploaded -> processing -> {completed|failed}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusUploaded:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// CellError records a per-cell failure that did not abort the batch.
// Row is the 1-based spreadsheet row (the header is row 1).
type CellError struct {
	Row     int    `json:"row"`
	Column  *int   `json:"column,omitempty"`
	Message string `json:"message"`
}

// NewCellError builds a CellError for a 0-based data row and 0-based column
func NewCellError(rowIndex, columnIndex int, message string) CellError {
	col := columnIndex + 1
	return CellError{
		Row:     rowIndex + 2,
		Column:  &col,
		Message: message,
	}
}

// Batch is the persisted metadata of one processing run over an uploaded spreadsheet
type Batch struct {
	ID                    string      `json:"id"`
	Status                Status      `json:"status"`
	OriginalFileName      string      `json:"original_file_name"`
	UploadPath            string      `json:"upload_path"`
	ResultFilePath        string      `json:"result_file_path,omitempty"`
	Columns               []string    `json:"columns"`
	TotalRows             int         `json:"total_rows"`
	URLColumnIndexes      []int       `json:"url_column_indexes"`
	TitleColumnIndex      *int        `json:"title_column_index"`
	IdentifierColumnIndex *int        `json:"identifier_column_index"`
	ProcessedRows         int         `json:"processed_rows"`
	Errors                []CellError `json:"errors"`
	PreviewRows           [][]string  `json:"preview_rows"`
	BaseURL               string      `json:"base_url,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// HasTitleGeneration reports whether both title and identifier columns were classified
func (b *Batch) HasTitleGeneration() bool {
	return b.TitleColumnIndex != nil && b.IdentifierColumnIndex != nil
}

// Clone returns a deep copy
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Columns = cloneSlice(b.Columns)
	out.URLColumnIndexes = cloneSlice(b.URLColumnIndexes)
	out.TitleColumnIndex = cloneInt(b.TitleColumnIndex)
	out.IdentifierColumnIndex = cloneInt(b.IdentifierColumnIndex)
	if b.Errors != nil {
		out.Errors = make([]CellError, len(b.Errors))
		for i, e := range b.Errors {
			e.Column = cloneInt(e.Column)
			out.Errors[i] = e
		}
	}
	if b.PreviewRows != nil {
		out.PreviewRows = make([][]string, len(b.PreviewRows))
		for i, row := range b.PreviewRows {
			out.PreviewRows[i] = cloneSlice(row)
		}
	}
	return &out
}

// cloneSlice copies s, keeping nil and empty distinct
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Preview is a bounded view of a parsed spreadsheet
type Preview struct {
	FileName string     `json:"file_name"`
	Columns  []string   `json:"columns"`
	Rows     [][]string `json:"rows"`
}

// UploadResponse is returned after a spreadsheet has been accepted
type UploadResponse struct {
	BatchID   string  `json:"batch_id"`
	Preview   Preview `json:"preview"`
	TotalRows int     `json:"total_rows"`
}

// ProcessRequest represents a request to run a job for a batch
type ProcessRequest struct {
	BatchID string `json:"batch_id"`
	Job     string `json:"job"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	BatchID string `json:"batch_id"`
	RunID   string `json:"run_id"`
	Status  Status `json:"status"`
}

// StatusResponse wraps a batch record for the status endpoint
type StatusResponse struct {
	Batch *Batch `json:"batch"`
}

// ErrorResponse is the JSON body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}

// JobType constants
const (
	JobCutImage = "cutimage"
)

// Limits shared by the ingestor, the orchestrator and the upload flow
const (
	MaxColumns       = 15
	PreviewRowLimit  = 20
	CheckpointEvery  = 5
	CropBandHeight   = 160
	CropJPEGQuality  = 90
	MaxTitleLength   = 60
	ResultFileSuffix = "_cutimage"
)
