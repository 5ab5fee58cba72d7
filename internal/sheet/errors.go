package sheet

import "gitlab.com/tozd/go/errors"

var (
	// ErrUnreadable is returned when the bytes are not a readable workbook
	ErrUnreadable = errors.New("spreadsheet could not be read")

	// ErrEmptySheet is returned when the workbook has no worksheet
	ErrEmptySheet = errors.New("spreadsheet contains no worksheets")

	// ErrNoColumns is returned when the header row has no cells
	ErrNoColumns = errors.New("spreadsheet must contain at least one column")

	// ErrTooManyColumns is returned when the header row is wider than MaxColumns
	ErrTooManyColumns = errors.New("spreadsheet has too many columns")

	// ErrNoDataRows is returned when no data row has a non-blank cell
	ErrNoDataRows = errors.New("spreadsheet contains no data rows")

	// ErrNoURLColumns is returned when no image-URL column could be detected
	ErrNoURLColumns = errors.New("no image URL columns detected; rename a column to include 'URL'")
)
