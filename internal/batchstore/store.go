package batchstore

import (
	"context"
	"sort"
	"time"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

var (
	// ErrNotFound is returned when no batch has the given id
	ErrNotFound = errors.New("batch not found")

	// ErrAlreadyExists is returned when creating a batch whose id is taken
	ErrAlreadyExists = errors.New("batch already exists")
)

// Mutator edits a batch in place inside Update
type Mutator func(*pipeline.Batch) error

// Store persists batch records. Update is a read-modify-write; callers
// serialize updates to one batch.
type Store interface {
	Create(ctx context.Context, b *pipeline.Batch) error
	Get(ctx context.Context, id string) (*pipeline.Batch, error)
	Update(ctx context.Context, id string, fn Mutator) (*pipeline.Batch, error)
	List(ctx context.Context) ([]*pipeline.Batch, error)
}

// now is swapped in tests
var now = func() time.Time { return time.Now().UTC() }

func stamp(b *pipeline.Batch) {
	t := now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t
	}
	b.UpdatedAt = t
}

func sortByCreated(batches []*pipeline.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
}
