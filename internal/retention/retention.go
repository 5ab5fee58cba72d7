// Package retention removes cropped images and result workbooks that have
// outlived the configured age.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"gitlab.com/tozd/go/errors"
)

// DefaultMaxAge is used when no positive age is configured
const DefaultMaxAge = 48 * time.Hour

// Prefixes lists the key prefixes a sweep visits. Uploads are kept so
// finished batches can be reprocessed.
var Prefixes = []string{storage.AssetsPrefix, storage.ResultsPrefix}

// Report summarizes one sweep
type Report struct {
	Scanned int
	Deleted int
	Bytes   int64
}

// Sweeper deletes stale objects from a store
type Sweeper struct {
	store  storage.Store
	maxAge time.Duration
	now    func() time.Time
}

func NewSweeper(store storage.Store, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{store: store, maxAge: maxAge, now: time.Now}
}

// Sweep deletes every object under Prefixes last modified before now-maxAge
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	logger := zerolog.Ctx(ctx)
	cutoff := s.now().Add(-s.maxAge)

	var report Report
	var stale []storage.ObjectInfo
	for _, prefix := range Prefixes {
		err := s.store.Walk(ctx, prefix, func(obj storage.ObjectInfo) error {
			report.Scanned++
			if obj.ModTime.Before(cutoff) {
				stale = append(stale, obj)
			}
			return nil
		})
		if err != nil {
			return report, errors.Errorf("failed to scan %s: %w", prefix, err)
		}
	}

	for _, obj := range stale {
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			return report, errors.Errorf("failed to delete %s: %w", obj.Key, err)
		}
		report.Deleted++
		report.Bytes += obj.Size
		logger.Debug().Str("key", obj.Key).Time("modified", obj.ModTime).Msg("deleted stale file")
	}

	logger.Info().
		Int("scanned", report.Scanned).
		Int("deleted", report.Deleted).
		Int64("bytes", report.Bytes).
		Dur("max_age", s.maxAge).
		Msg("retention sweep finished")
	return report, nil
}

// Run sweeps every interval until ctx is done. Sweep failures are logged and
// the loop continues.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
