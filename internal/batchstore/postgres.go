package batchstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

// PostgresStore keeps each batch as a JSONB document in cutimage_batches
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the table if it does not exist
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}

	if err := store.ensureTable(ctx); err != nil {
		return nil, errors.Errorf("failed to ensure batch table: %w", err)
	}

	return store, nil
}

// ensureTable creates the cutimage_batches table if it doesn't exist
func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS cutimage_batches (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Errorf("failed to create cutimage_batches table: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Msg("cutimage_batches table ready")
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, b *pipeline.Batch) error {
	stamp(b)
	doc, err := json.Marshal(b)
	if err != nil {
		return errors.Errorf("failed to encode batch %s: %w", b.ID, err)
	}

	query := `
		INSERT INTO cutimage_batches (id, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.db.ExecContext(ctx, query, b.ID, string(b.Status), string(doc), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.Errorf("%w: %s", ErrAlreadyExists, b.ID)
		}
		return errors.Errorf("failed to insert batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*pipeline.Batch, error) {
	query := `SELECT doc FROM cutimage_batches WHERE id = $1`
	return scanBatch(s.db.QueryRowContext(ctx, query, id), id)
}

// Update locks the row for the duration of fn
func (s *PostgresStore) Update(ctx context.Context, id string, fn Mutator) (*pipeline.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT doc FROM cutimage_batches WHERE id = $1 FOR UPDATE`
	b, err := scanBatch(tx.QueryRowContext(ctx, query, id), id)
	if err != nil {
		return nil, err
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	b.ID = id
	stamp(b)

	doc, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Errorf("failed to encode batch %s: %w", id, err)
	}
	update := `UPDATE cutimage_batches SET status = $2, doc = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, id, string(b.Status), string(doc), b.UpdatedAt); err != nil {
		return nil, errors.Errorf("failed to update batch %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Errorf("failed to commit batch %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*pipeline.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM cutimage_batches ORDER BY created_at`)
	if err != nil {
		return nil, errors.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Batch
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Errorf("failed to scan batch: %w", err)
		}
		var b pipeline.Batch
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, errors.Errorf("failed to decode batch: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("failed to list batches: %w", err)
	}
	return out, nil
}

func scanBatch(row *sql.Row, id string) (*pipeline.Batch, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, errors.Errorf("failed to load batch %s: %w", id, err)
	}
	var b pipeline.Batch
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, errors.Errorf("failed to decode batch %s: %w", id, err)
	}
	return &b, nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
