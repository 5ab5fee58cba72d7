package llm

import (
	"fmt"
	"net/http"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrMissingAPIKey is returned when the client has no credential
	ErrMissingAPIKey = errors.New("llm: missing api key")

	// ErrRateLimited is returned on HTTP 429
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrResponseInvalid is returned when the completion body cannot be used
	ErrResponseInvalid = errors.New("llm: response invalid")
)

// UpstreamError carries a non-2xx status returned by the completion endpoint
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm upstream %d: %s", e.Status, e.Message)
}

// Temporary reports whether the failure is worth retrying
func (e *UpstreamError) Temporary() bool {
	return e.Status == http.StatusRequestTimeout || e.Status/100 == 5
}
