package sheet

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// workbook builds an .xlsx from raw cell values; nil cells are left unset.
func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, axis, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	t.Run("keeps_rows_with_content_and_drops_blank_rows", func(t *testing.T) {
		data := workbook(t, [][]any{
			{"Title", "Imagen URL"},
			{"Shoe", "https://example.com/a.jpg"},
			{"  ", nil},
			{nil, "https://example.com/b.jpg"},
			{},
			{"Hat", nil},
		})

		parsed, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, []string{"Title", "Imagen URL"}, parsed.Columns)
		assert.Equal(t, [][]string{
			{"Shoe", "https://example.com/a.jpg"},
			{"", "https://example.com/b.jpg"},
			{"Hat", ""},
		}, parsed.Rows)
	})

	t.Run("stringifies_numbers_and_booleans", func(t *testing.T) {
		data := workbook(t, [][]any{
			{"SKU", "Photo", "Active"},
			{1234, "https://example.com/a.jpg", true},
			{"X-1", "https://example.com/b.jpg", false},
		})

		parsed, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, []string{"1234", "https://example.com/a.jpg", "true"}, parsed.Rows[0])
		assert.Equal(t, "false", parsed.Rows[1][2])
	})

	t.Run("names_blank_headers_by_position", func(t *testing.T) {
		data := workbook(t, [][]any{
			{" url ", nil, "Name"},
			{"https://example.com/a.jpg", "x", "y"},
		})

		parsed, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, []string{"url", "Column 2", "Name"}, parsed.Columns)
	})

	t.Run("errors", func(t *testing.T) {
		wide := make([]any, 16)
		for i := range wide {
			wide[i] = fmt.Sprintf("url %d", i)
		}
		tests := []struct {
			name string
			rows [][]any
			want error
		}{
			{"no_columns", [][]any{{}, {"https://example.com/a.jpg"}}, ErrNoColumns},
			{"too_many_columns", [][]any{wide, {"https://example.com/a.jpg"}}, ErrTooManyColumns},
			{"no_data_rows", [][]any{{"url"}, {" "}}, ErrNoDataRows},
			{"no_url_columns", [][]any{{"Title"}, {"Shoe"}}, ErrNoURLColumns},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Parse(workbook(t, tt.rows))
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("rejects_garbage", func(t *testing.T) {
		_, err := Parse([]byte("not a workbook"))
		assert.ErrorIs(t, err, ErrUnreadable)
	})

	t.Run("deterministic", func(t *testing.T) {
		data := workbook(t, [][]any{
			{"Codigo", "Nombre", "Links"},
			{"A1", "Shoe", "https://example.com/a.jpg"},
			{"A2", "Hat", "http://example.com/b.jpg"},
		})

		first, err := Parse(data)
		require.NoError(t, err)
		second, err := Parse(data)
		require.NoError(t, err)
		assert.True(t, first.Classification.Equal(second.Classification))
		assert.Equal(t, first.Rows, second.Rows)
	})
}

func TestClassify(t *testing.T) {
	intp := func(v int) *int { return &v }

	tests := []struct {
		name    string
		columns []string
		rows    [][]string
		want    Classification
	}{
		{
			name:    "header_keywords",
			columns: []string{"SKU", "Título", "Imagen 1", "Foto 2"},
			rows:    [][]string{{"a", "b", "c", "d"}},
			want: Classification{
				URLColumnIndexes:      []int{2, 3},
				TitleColumnIndex:      intp(1),
				IdentifierColumnIndex: intp(0),
			},
		},
		{
			name:    "content_fallback",
			columns: []string{"Product", "Links", "Other"},
			rows:    [][]string{{"Shoe", "", "x"}, {"Hat", "HTTPS://cdn.example.com/1.png", "ftp://nope"}},
			want: Classification{
				URLColumnIndexes: []int{1},
			},
		},
		{
			name:    "header_match_skips_content_sniffing",
			columns: []string{"Image", "Links"},
			rows:    [][]string{{"", "https://example.com/a.jpg"}},
			want: Classification{
				URLColumnIndexes: []int{0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.columns, tt.rows)
			assert.Equal(t, tt.want.URLColumnIndexes, got.URLColumnIndexes)
			assert.True(t, tt.want.Equal(got), "got %+v", got)
		})
	}
}

func TestClassificationEqual(t *testing.T) {
	one, two := 1, 2
	a := Classification{URLColumnIndexes: []int{0}, TitleColumnIndex: &one}
	assert.True(t, a.Equal(Classification{URLColumnIndexes: []int{0}, TitleColumnIndex: &one}))
	assert.False(t, a.Equal(Classification{URLColumnIndexes: []int{0}, TitleColumnIndex: &two}))
	assert.False(t, a.Equal(Classification{URLColumnIndexes: []int{0}}))
	assert.False(t, a.Equal(Classification{URLColumnIndexes: []int{0, 1}, TitleColumnIndex: &one}))
}

func TestWriteRoundTrip(t *testing.T) {
	columns := []string{"Title", "Imagen URL"}
	rows := [][]string{
		{"Shoe", "/processed/b1/1-2-x.jpg"},
		{"Hat", "https://example.com/missing.jpg"},
	}

	data, err := Write(columns, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{ResultSheetName}, f.GetSheetList())

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, columns, parsed.Columns)
	assert.Equal(t, rows, parsed.Rows)
}

func TestResultFileName(t *testing.T) {
	assert.Equal(t, "products_cutimage.xlsx", ResultFileName("products.xlsx"))
	assert.Equal(t, "products_cutimage.xlsx", ResultFileName("products"))
	assert.Equal(t, "my.products_cutimage.xlsx", ResultFileName("my.products.xlsx"))
}
