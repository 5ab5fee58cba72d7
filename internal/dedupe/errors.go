package dedupe

import "gitlab.com/tozd/go/errors"

var (
	// ErrGenerationUnavailable is returned when no title generator is configured
	ErrGenerationUnavailable = errors.New("title generation unavailable")
)
