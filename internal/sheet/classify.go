package sheet

import (
	"regexp"
	"slices"
	"strings"
)

// Header keywords, matched as case-insensitive substrings.
var (
	urlHeaderKeywords        = []string{"url", "imagen", "image", "foto", "photo", "img"}
	titleHeaderKeywords      = []string{"titulo", "título", "title", "nombre", "name"}
	identifierHeaderKeywords = []string{"sku", "código", "codigo", "code", "id", "ref", "referencia"}
)

// sniffSampleRows bounds the content fallback of URL detection
const sniffSampleRows = 100

var urlValuePattern = regexp.MustCompile(`(?i)^https?://`)

// Classification assigns roles to spreadsheet columns
type Classification struct {
	URLColumnIndexes      []int
	TitleColumnIndex      *int
	IdentifierColumnIndex *int
}

// Classify detects image-URL, title and identifier columns.
// URL columns come from header keywords, falling back to cell contents when no
// header matches. Title and identifier columns use header keywords only.
func Classify(columns []string, rows [][]string) Classification {
	urls := make([]int, 0, len(columns))
	for i, col := range columns {
		if matchesAny(col, urlHeaderKeywords) {
			urls = append(urls, i)
		}
	}

	if len(urls) == 0 {
		sample := rows
		if len(sample) > sniffSampleRows {
			sample = sample[:sniffSampleRows]
		}
		for i := range columns {
			for _, row := range sample {
				if i < len(row) && urlValuePattern.MatchString(strings.TrimSpace(row[i])) {
					urls = append(urls, i)
					break
				}
			}
		}
	}

	return Classification{
		URLColumnIndexes:      urls,
		TitleColumnIndex:      firstMatch(columns, titleHeaderKeywords),
		IdentifierColumnIndex: firstMatch(columns, identifierHeaderKeywords),
	}
}

// Equal reports structural equality of two classifications
func (c Classification) Equal(o Classification) bool {
	return slices.Equal(c.URLColumnIndexes, o.URLColumnIndexes) &&
		equalIndex(c.TitleColumnIndex, o.TitleColumnIndex) &&
		equalIndex(c.IdentifierColumnIndex, o.IdentifierColumnIndex)
}

func firstMatch(columns []string, keywords []string) *int {
	for i, col := range columns {
		if matchesAny(col, keywords) {
			idx := i
			return &idx
		}
	}
	return nil
}

func matchesAny(header string, keywords []string) bool {
	lower := strings.ToLower(header)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func equalIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
