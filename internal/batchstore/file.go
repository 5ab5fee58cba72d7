package batchstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FileStore writes one JSON document per batch under dir
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Errorf("failed to create batch directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", errors.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) read(id string) (*pipeline.Batch, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, errors.Errorf("failed to read batch %s: %w", id, err)
	}
	var b pipeline.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Errorf("failed to decode batch %s: %w", id, err)
	}
	if !b.Status.IsValid() {
		return nil, errors.Errorf("failed to decode batch %s: unknown status %q", id, b.Status)
	}
	return &b, nil
}

// write replaces the record through a temp file and rename
func (s *FileStore) write(b *pipeline.Batch) error {
	path, err := s.path(b.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Errorf("failed to encode batch %s: %w", b.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".batch-*")
	if err != nil {
		return errors.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Errorf("failed to write batch %s: %w", b.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("failed to close batch %s: %w", b.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Errorf("failed to store batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, b *pipeline.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(b.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("%w: %s", ErrAlreadyExists, b.ID)
	}
	stamp(b)
	return s.write(b)
}

func (s *FileStore) Get(ctx context.Context, id string) (*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) Update(ctx context.Context, id string, fn Mutator) (*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	b.ID = id
	stamp(b)
	if err := s.write(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *FileStore) List(ctx context.Context) ([]*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Errorf("failed to list batches: %w", err)
	}
	out := make([]*pipeline.Batch, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		b, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	sortByCreated(out)
	return out, nil
}
