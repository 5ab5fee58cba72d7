package sheet

import (
	"path/filepath"
	"strings"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"github.com/xuri/excelize/v2"
	"gitlab.com/tozd/go/errors"
)

// ResultSheetName is the worksheet name of generated workbooks
const ResultSheetName = "CutImage"

// Write builds an .xlsx workbook with the header row followed by rows
func Write(columns []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), ResultSheetName); err != nil {
		return nil, errors.Errorf("failed to name worksheet: %w", err)
	}

	header := append([]string(nil), columns...)
	if err := f.SetSheetRow(ResultSheetName, "A1", &header); err != nil {
		return nil, errors.Errorf("failed to write header: %w", err)
	}
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, errors.Errorf("failed to address row %d: %w", i+2, err)
		}
		values := append([]string(nil), row...)
		if err := f.SetSheetRow(ResultSheetName, axis, &values); err != nil {
			return nil, errors.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ResultFileName inserts the result suffix before the extension of the
// original name, defaulting to .xlsx.
func ResultFileName(original string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	if ext == "" {
		ext = ".xlsx"
	}
	return base + pipeline.ResultFileSuffix + ext
}
