package sheet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"github.com/xuri/excelize/v2"
	"gitlab.com/tozd/go/errors"
)

// Parsed is the result of ingesting a spreadsheet
type Parsed struct {
	Columns        []string
	Rows           [][]string
	Classification Classification
}

// Parse reads the first worksheet of an .xlsx document, drops blank rows and
// classifies its columns. The output depends only on the input bytes.
func Parse(data []byte) (*Parsed, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Errorf("%w: %s", ErrUnreadable, err.Error())
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	name := sheets[0]

	raw, err := f.GetRows(name)
	if err != nil {
		return nil, errors.Errorf("%w: %s", ErrUnreadable, err.Error())
	}
	if len(raw) == 0 || len(raw[0]) == 0 {
		return nil, ErrNoColumns
	}

	columnCount := len(raw[0])
	if columnCount > pipeline.MaxColumns {
		return nil, errors.Errorf("%w: %d (max %d)", ErrTooManyColumns, columnCount, pipeline.MaxColumns)
	}

	columns := make([]string, columnCount)
	for i := range columns {
		v := cellText(f, name, i, 0, raw[0][i])
		if v == "" {
			v = fmt.Sprintf("Column %d", i+1)
		}
		columns[i] = v
	}

	rows := make([][]string, 0, len(raw)-1)
	for r := 1; r < len(raw); r++ {
		values := make([]string, columnCount)
		blank := true
		for c := 0; c < columnCount && c < len(raw[r]); c++ {
			values[c] = cellText(f, name, c, r, raw[r][c])
			if values[c] != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, values)
		}
	}
	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}

	classification := Classify(columns, rows)
	if len(classification.URLColumnIndexes) == 0 {
		return nil, ErrNoURLColumns
	}

	return &Parsed{
		Columns:        columns,
		Rows:           rows,
		Classification: classification,
	}, nil
}

// cellText trims the displayed value of a cell; boolean cells become true/false.
func cellText(f *excelize.File, sheet string, col, row int, value string) string {
	value = strings.TrimSpace(value)
	upper := strings.ToUpper(value)
	if upper != "TRUE" && upper != "FALSE" {
		return value
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return value
	}
	typ, err := f.GetCellType(sheet, axis)
	if err != nil || typ != excelize.CellTypeBool {
		return value
	}
	return strings.ToLower(upper)
}
