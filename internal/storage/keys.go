package storage

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Key prefixes
const (
	UploadsPrefix = "uploads/"
	AssetsPrefix  = "cropped/"
	ResultsPrefix = "results/"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// SafeName replaces every character outside [a-zA-Z0-9.-_] with an underscore
func SafeName(name string) string {
	return unsafeNameChars.ReplaceAllString(path.Base(name), "_")
}

// UploadKey names a stored upload
func UploadKey(fileName string) string {
	return UploadsPrefix + uuid.NewString() + "-" + SafeName(fileName)
}

// AssetKey names a cropped image of a batch
func AssetKey(batchID, file string) string {
	return AssetsPrefix + batchID + "/" + file
}

// ResultKey names the result workbook of a batch
func ResultKey(batchID, fileName string) string {
	return ResultsPrefix + batchID + "-" + SafeName(fileName)
}

// PublicAssetURL returns the link written into result workbooks. Without a
// base URL the link is relative.
func PublicAssetURL(baseURL, batchID, file string) string {
	rel := "/processed/" + batchID + "/" + file
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return rel
	}
	return base + rel
}
