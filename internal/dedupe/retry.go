package dedupe

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/llm"
	"gitlab.com/tozd/go/errors"
)

// TitleGenerator is the call wrapped by WithRetry
type TitleGenerator interface {
	GenerateUniqueTitle(ctx context.Context, identifier, original string) (string, error)
}

// Backoff returns the wait before retry n (zero-based)
type Backoff func(n int) time.Duration

// ExponentialBackoff doubles base on every retry
func ExponentialBackoff(base time.Duration) Backoff {
	return func(n int) time.Duration { return base << n }
}

// RetryPolicy bounds the outer retry around a full title generation
type RetryPolicy struct {
	Retries int
	Backoff Backoff
}

// DefaultRetryPolicy retries twice, waiting 1s then 2s
var DefaultRetryPolicy = RetryPolicy{Retries: 2, Backoff: ExponentialBackoff(time.Second)}

// WithRetry calls gen, retrying failures per policy. ErrGenerationUnavailable
// and non-temporary upstream errors are returned immediately.
func WithRetry(ctx context.Context, gen TitleGenerator, policy RetryPolicy, identifier, original string) (string, error) {
	var lastErr error
	for n := 0; n <= policy.Retries; n++ {
		if n > 0 {
			wait := time.Duration(0)
			if policy.Backoff != nil {
				wait = policy.Backoff(n - 1)
			}
			zerolog.Ctx(ctx).Warn().Err(lastErr).
				Str("identifier", identifier).
				Int("retry", n).
				Dur("wait", wait).
				Msg("retrying title generation")
			if err := sleep(ctx, wait); err != nil {
				return "", err
			}
		}

		title, err := gen.GenerateUniqueTitle(ctx, identifier, original)
		if err == nil {
			return title, nil
		}
		if permanent(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// permanent reports failures that a retry cannot fix
func permanent(err error) bool {
	if errors.Is(err, ErrGenerationUnavailable) || errors.Is(err, llm.ErrMissingAPIKey) {
		return true
	}
	var upstream *llm.UpstreamError
	return errors.As(err, &upstream) && !upstream.Temporary()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
