package batchstore

import (
	"context"
	"sync"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// MemoryStore keeps batches in a map. Records are cloned on the way in and
// out.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]*pipeline.Batch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]*pipeline.Batch)}
}

func (s *MemoryStore) Create(ctx context.Context, b *pipeline.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[b.ID]; ok {
		return errors.Errorf("%w: %s", ErrAlreadyExists, b.ID)
	}
	stamp(b)
	s.batches[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, errors.Errorf("%w: %s", ErrNotFound, id)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn Mutator) (*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.batches[id]
	if !ok {
		return nil, errors.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	stamp(next)
	s.batches[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*pipeline.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b.Clone())
	}
	sortByCreated(out)
	return out, nil
}
